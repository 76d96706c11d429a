package profile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/fyrsmithlabs/draftflow/internal/state"
)

// verdictPattern matches the verdict marker a review prompt instructs the
// responder to emit.
var verdictPattern = regexp.MustCompile(`(?im)^\s*VERDICT:\s*(PASS|FAIL)\b`)

// pathAttr extracts the path annotation from a fenced code block's info
// string, e.g. "go path=code/main.go".
var pathAttr = regexp.MustCompile(`(?:^|\s)path=(\S+)`)

// GenericProfile is a domain-neutral profile: prompts are assembled from
// the session context, generated files are extracted from path-annotated
// fenced code blocks, and review verdicts use an explicit VERDICT marker.
// It exists so the control plane runs end to end without a bespoke domain
// profile.
type GenericProfile struct {
	md goldmark.Markdown
}

// NewGenericProfile creates the built-in generic profile.
func NewGenericProfile() *GenericProfile {
	return &GenericProfile{md: goldmark.New()}
}

// ID returns the registry key for the generic profile.
func (p *GenericProfile) ID() string { return "generic" }

// Capabilities reports that prompt regeneration is supported: generic
// prompts are pure functions of the session context.
func (p *GenericProfile) Capabilities() Capabilities {
	return Capabilities{RegeneratePrompts: true}
}

// PromptFor produces the prompt text for a working phase.
func (p *GenericProfile) PromptFor(phase state.Phase, in Input) (string, error) {
	var b strings.Builder

	writeContext := func() {
		keys := make([]string, 0, len(in.Context))
		for k := range in.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			b.WriteString("## Task parameters\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "- %s: %s\n", k, in.Context[k])
			}
			b.WriteString("\n")
		}
	}

	switch phase {
	case state.PhasePlan:
		b.WriteString("# Planning prompt\n\n")
		writeContext()
		b.WriteString("Produce a step-by-step plan for the work described above.\n")
		b.WriteString("Cover scope, the files to produce, and acceptance criteria.\n")

	case state.PhaseGenerate:
		b.WriteString("# Generation prompt\n\n")
		writeContext()
		if in.Standards != "" {
			b.WriteString("## Standards\n")
			b.WriteString(in.Standards)
			b.WriteString("\n\n")
		}
		if in.Plan != "" {
			b.WriteString("## Approved plan\n")
			b.WriteString(in.Plan)
			b.WriteString("\n\n")
		}
		b.WriteString("Implement the approved plan. Emit each produced file as a fenced\n")
		b.WriteString("code block annotated `path=<relative/file/name>` in its info string.\n")

	case state.PhaseReview:
		b.WriteString("# Review prompt\n\n")
		writeContext()
		fmt.Fprintf(&b, "Review iteration %d against the approved plan and the standards.\n", in.Iteration)
		b.WriteString("List findings, then end with a single line `VERDICT: PASS` or `VERDICT: FAIL`.\n")

	case state.PhaseRevise:
		b.WriteString("# Revision prompt\n\n")
		writeContext()
		if in.Review != "" {
			b.WriteString("## Review findings\n")
			b.WriteString(in.Review)
			b.WriteString("\n\n")
		}
		b.WriteString("Revise the previous iteration to resolve every finding above.\n")
		b.WriteString("Emit each changed file as a fenced code block annotated `path=<relative/file/name>`.\n")

	default:
		return "", fmt.Errorf("no prompt defined for phase %s", phase)
	}

	return b.String(), nil
}

// ParseResponse extracts path-annotated fenced code blocks and, for the
// review phase, the verdict marker. A review response without a parsable
// verdict yields a nil Verdict and no error; the caller treats that as a
// recoverable condition.
func (p *GenericProfile) ParseResponse(phase state.Phase, text string) (*ParsedResponse, error) {
	parsed := &ParsedResponse{}

	switch phase {
	case state.PhaseGenerate, state.PhaseRevise:
		files, err := p.extractFiles([]byte(text))
		if err != nil {
			return nil, err
		}
		parsed.Files = files

	case state.PhaseReview:
		if m := verdictPattern.FindStringSubmatch(text); m != nil {
			v := Verdict(strings.ToUpper(m[1]))
			parsed.Verdict = &v
		}
	}

	return parsed, nil
}

// ExpectedFiles declares no fixed file set; the generic profile accepts
// whatever the plan calls for.
func (p *GenericProfile) ExpectedFiles(phase state.Phase) []string {
	return nil
}

// StandardsBundle renders a minimal bundle from the context's "standards"
// key, or a default statement when none is given.
func (p *GenericProfile) StandardsBundle(in Input) (string, error) {
	var b strings.Builder
	b.WriteString("# Standards\n\n")
	if s, ok := in.Context["standards"]; ok && s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	} else {
		b.WriteString("Follow the conventions established by the approved plan.\n")
	}
	return b.String(), nil
}

// extractFiles walks the markdown AST collecting fenced code blocks whose
// info string carries a path annotation. Unannotated blocks are ignored;
// they are illustration, not output.
func (p *GenericProfile) extractFiles(source []byte) ([]ExtractedFile, error) {
	reader := gmtext.NewReader(source)
	doc := p.md.Parser().Parse(reader)

	var files []ExtractedFile
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var info string
		if fcb.Info != nil {
			info = string(fcb.Info.Segment.Value(source))
		}
		m := pathAttr.FindStringSubmatch(info)
		if m == nil {
			return ast.WalkContinue, nil
		}
		path := m[1]
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			return ast.WalkStop, fmt.Errorf("unsafe extracted file path %q", path)
		}

		var content strings.Builder
		lines := fcb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			content.Write(seg.Value(source))
		}
		files = append(files, ExtractedFile{Path: path, Content: content.String()})
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
