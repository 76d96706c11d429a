package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/draftflow/internal/state"
	"github.com/fyrsmithlabs/draftflow/internal/transition"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(12)
	dimStyle   = lipgloss.NewStyle().Faint(true)

	statusStyles = map[state.Status]lipgloss.Style{
		state.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		state.StatusSuccess:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		state.StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		state.StatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a session's current state",
	Long: `Show the session's phase, stage, status, iteration, recorded
feedback, and tracked artifacts.

Examples:
  draftflow status -s article-42`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	sessionID, err := requireSession()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ws, err := a.store.Load(sessionID)
	if err != nil {
		return err
	}

	cmd.Println(renderStatus(ws))
	return nil
}

func renderStatus(ws *state.WorkflowState) string {
	var b strings.Builder

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Session", ws.SessionID)
	row("Profile", ws.ProfileID)
	row("Position", describePosition(ws))
	row("Status", statusStyle(ws.Status).Render(string(ws.Status)))
	row("Iteration", fmt.Sprintf("%d", ws.Iteration))
	row("Updated", ws.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	if valid := transition.ValidCommands(ws.Phase, ws.Stage); len(valid) > 0 {
		cmds := make([]string, len(valid))
		for i, c := range valid {
			cmds[i] = string(c)
		}
		row("Commands", strings.Join(cmds, ", "))
	}
	if ws.AwaitingContent {
		row("Blocked", "awaiting an externally supplied response artifact")
	}
	if ws.RetryCount > 0 {
		row("Retries", fmt.Sprintf("%d", ws.RetryCount))
	}
	if ws.ApprovalFeedback != "" {
		row("Feedback", ws.ApprovalFeedback)
	}
	if ws.LastError != "" {
		row("Last error", ws.LastError)
	}

	if len(ws.Artifacts) > 0 {
		b.WriteString(labelStyle.Render("Artifacts"))
		b.WriteString("\n")
		for _, art := range ws.Artifacts {
			mark := dimStyle.Render("unhashed")
			if art.Hash != "" {
				mark = art.Hash[:12]
			}
			fmt.Fprintf(&b, "  %-40s iter=%d %s\n", art.Path, art.Iteration, mark)
		}
	}
	return b.String()
}

func statusStyle(s state.Status) lipgloss.Style {
	if style, ok := statusStyles[s]; ok {
		return style
	}
	return lipgloss.NewStyle()
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions under the configured root",
	Long: `List every session with a readable record, with its current
position and status.

Examples:
  draftflow sessions`,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := a.store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		cmd.Println("no sessions")
		return nil
	}

	for _, id := range ids {
		ws, err := a.store.Load(id)
		if err != nil {
			cmd.Printf("%-24s %s\n", id, dimStyle.Render("unreadable: "+err.Error()))
			continue
		}
		cmd.Printf("%-24s %-20s %-12s iter=%d\n",
			id, describePosition(ws), statusStyle(ws.Status).Render(string(ws.Status)), ws.Iteration)
	}
	return nil
}
