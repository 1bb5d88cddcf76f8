// Package handoff passes a finished capture to the external analysis agent.
// The agent's reasoning is not modeled here; it is an opaque command that
// reads instructions on stdin and writes a client into the scripts dir.
package handoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrNoAnalyzer is returned when no analysis command is configured.
var ErrNoAnalyzer = errors.New("no analysis command configured")

// DefaultGrace is how long a cancelled command gets between interrupt and kill.
const DefaultGrace = 5 * time.Second

// Request describes one finished capture.
type Request struct {
	RunID      string
	HARPath    string
	Prompt     string
	ScriptsDir string
	Model      string
	Extra      string
}

// Result is what the analysis left behind.
type Result struct {
	ScriptsDir string
	ScriptPath string   // empty when the agent wrote no client
	Files      []string // relative to ScriptsDir
	Duration   time.Duration
}

// Analyzer turns a capture into a replay client.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// CommandAnalyzer runs an external agent command. The prompt from
// BuildPrompt is written to its stdin; run details are passed as
// REVAPI_* environment variables.
type CommandAnalyzer struct {
	Command string
	Args    []string
	Env     []string // extra KEY=VALUE pairs
	Timeout time.Duration
	Grace   time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
}

// NewCommandAnalyzer returns ErrNoAnalyzer when command is empty.
func NewCommandAnalyzer(command string, args []string, timeout time.Duration) (*CommandAnalyzer, error) {
	if command == "" {
		return nil, ErrNoAnalyzer
	}
	return &CommandAnalyzer{Command: command, Args: args, Timeout: timeout}, nil
}

// Analyze runs the command and waits for it. Cancelling ctx interrupts
// the command's whole process group, then kills it after Grace.
func (a *CommandAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if a.Command == "" {
		return nil, ErrNoAnalyzer
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "handoff", "run_id", req.RunID)

	if err := os.MkdirAll(req.ScriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	grace := a.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	cmd.Dir = workDir(req.ScriptsDir)
	cmd.Stdin = bytes.NewBufferString(BuildPrompt(req))
	cmd.Stdout = orDiscard(a.Stdout)
	cmd.Stderr = orDiscard(a.Stderr)
	cmd.Env = append(os.Environ(),
		"REVAPI_RUN_ID="+req.RunID,
		"REVAPI_HAR_PATH="+req.HARPath,
		"REVAPI_SCRIPTS_DIR="+req.ScriptsDir,
		"REVAPI_MODEL="+req.Model,
	)
	cmd.Env = append(cmd.Env, a.Env...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		logger.Info("interrupting analysis command")
		return interruptProcessGroup(cmd)
	}
	cmd.WaitDelay = grace

	started := time.Now()
	logger.Info("starting analysis", "command", a.Command)
	err := cmd.Run()
	killProcessGroup(cmd)
	elapsed := time.Since(started)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("analysis cancelled after %s: %w", elapsed.Round(time.Second), ctxErr)
	}
	if err != nil {
		return nil, fmt.Errorf("analysis command failed: %w", err)
	}

	res, err := collect(req.ScriptsDir)
	if err != nil {
		return nil, err
	}
	res.Duration = elapsed
	logger.Info("analysis finished", "files", len(res.Files), "duration", elapsed.Round(time.Second))
	return res, nil
}

// workDir is the output root, two levels above <root>/scripts/<run_id>.
func workDir(scriptsDir string) string {
	return filepath.Dir(filepath.Dir(scriptsDir))
}

func collect(dir string) (*Result, error) {
	res := &Result{ScriptsDir: dir}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		res.Files = append(res.Files, rel)
		if rel == ClientScriptName {
			res.ScriptPath = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scripts dir: %w", err)
	}
	return res, nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
