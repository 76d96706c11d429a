package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftflow/internal/logging"
)

// DefaultClaudeTimeout bounds an agent call when neither the caller nor the
// config declares one.
const DefaultClaudeTimeout = 10 * time.Minute

// writeTools are the agent tool names that create or modify files.
var writeTools = map[string]bool{
	"Write":     true,
	"Edit":      true,
	"MultiEdit": true,
}

// ClaudeProvider invokes the claude CLI as a non-interactive agent and
// parses its stream-json output to collect the result text and the files
// the agent wrote.
type ClaudeProvider struct {
	binary  string
	model   string
	timeout time.Duration
	log     *logging.Logger
}

// ClaudeOptions configure the claude strategy.
type ClaudeOptions struct {
	// Binary is the executable name or path. Defaults to "claude".
	Binary string

	// Model selects the model; empty uses the CLI default.
	Model string

	// Timeout bounds each Generate call. Zero uses DefaultClaudeTimeout.
	Timeout time.Duration
}

// NewClaudeProvider creates the claude agent strategy.
func NewClaudeProvider(opts ClaudeOptions, log *logging.Logger) *ClaudeProvider {
	binary := opts.Binary
	if binary == "" {
		binary = "claude"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultClaudeTimeout
	}
	return &ClaudeProvider{
		binary:  binary,
		model:   opts.Model,
		timeout: timeout,
		log:     log,
	}
}

// Name returns the registry key for the claude strategy.
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Capabilities reports direct workspace writes with tracked files.
func (p *ClaudeProvider) Capabilities() Capabilities {
	return Capabilities{
		FSAccess:        FSAccessDirectWrite,
		AcceptsFeedback: true,
		ReportsWrites:   true,
	}
}

// Validate checks the CLI binary is installed and executable. It runs once
// at session initialization so a missing binary fails before phase work.
func (p *ClaudeProvider) Validate(ctx context.Context) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("claude binary %q not found: %w", p.binary, err)
	}
	return nil
}

// Generate runs the agent subprocess and returns its produced content plus
// the tracked file writes. The call is bounded by the request timeout or
// the provider default; exceeding it is a recoverable TimeoutError.
func (p *ClaudeProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := p.buildArgs(req)
	cmd := exec.CommandContext(callCtx, p.binary, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	if callCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Provider: p.Name(), Timeout: timeout}
	}

	result, parseErr := parseStream(stdout.Bytes())
	if runErr != nil {
		// Prefer the agent's own error report when the stream carried one.
		if parseErr == nil && result.isError {
			return nil, fmt.Errorf("agent reported failure: %s", result.errorText())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, fmt.Errorf("claude exited with error: %s", msg)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse agent output: %w", parseErr)
	}
	if result.isError {
		return nil, fmt.Errorf("agent reported failure: %s", result.errorText())
	}

	if p.log != nil {
		p.log.Debug(ctx, "agent call completed",
			zap.Duration("duration", time.Since(start)),
			zap.Int("files_written", len(result.files)),
			zap.Int("malformed_records", result.malformed),
		)
	}

	return ProducedFiles(result.text, result.files), nil
}

// buildArgs constructs the CLI arguments for one call.
func (p *ClaudeProvider) buildArgs(req Request) []string {
	args := []string{
		"-p", req.AssemblePrompt(p.Capabilities().FSAccess),
		"--output-format", "stream-json",
		"--verbose",
	}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}
	return args
}

// streamResult accumulates what the stream-json records reported.
type streamResult struct {
	text      string
	isError   bool
	files     []FileWrite
	malformed int
}

func (r *streamResult) errorText() string {
	if strings.TrimSpace(r.text) != "" {
		return r.text
	}
	return "agent reported is_error with no details"
}

// parseStream walks newline-delimited stream-json output. Individual
// malformed records are counted and skipped rather than aborting the call;
// the parse only fails when no result record is found at all.
//
// File writes are tracked in two steps: a tool_use record for a write tool
// marks the path as attempted, and the matching tool_result without
// is_error marks it confirmed.
func parseStream(data []byte) (*streamResult, error) {
	res := &streamResult{}

	// Pending tool_use ids awaiting their tool_result, by id.
	pending := make(map[string]int) // id -> index into res.files
	sawResult := false

	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			res.malformed++
			continue
		}
		record := gjson.Parse(line)

		switch record.Get("type").String() {
		case "assistant":
			for _, block := range record.Get("message.content").Array() {
				if block.Get("type").String() != "tool_use" {
					continue
				}
				name := block.Get("name").String()
				if !writeTools[name] {
					continue
				}
				path := block.Get("input.file_path").String()
				if path == "" {
					res.malformed++
					continue
				}
				id := block.Get("id").String()
				res.files = append(res.files, FileWrite{Path: path})
				if id != "" {
					pending[id] = len(res.files) - 1
				}
			}

		case "user":
			for _, block := range record.Get("message.content").Array() {
				if block.Get("type").String() != "tool_result" {
					continue
				}
				id := block.Get("tool_use_id").String()
				idx, ok := pending[id]
				if !ok {
					continue
				}
				if !block.Get("is_error").Bool() {
					res.files[idx].Confirmed = true
				}
				delete(pending, id)
			}

		case "result":
			res.text = record.Get("result").String()
			res.isError = record.Get("is_error").Bool()
			sawResult = true
		}
	}

	if !sawResult {
		return res, errors.New("no result record in agent output")
	}
	return res, nil
}
