package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/neboloop/revapi/internal/browser"
	"github.com/neboloop/revapi/internal/capture"
	"github.com/neboloop/revapi/internal/config"
	"github.com/neboloop/revapi/internal/handoff"
	"github.com/neboloop/revapi/internal/lifecycle"
	"github.com/neboloop/revapi/internal/logging"
	"github.com/neboloop/revapi/internal/notify"
	"github.com/neboloop/revapi/internal/runs"
	"github.com/neboloop/revapi/internal/session"
)

type captureFlags struct {
	url          string
	outputDir    string
	runID        string
	realBrowser  bool
	driver       string
	noAnalysis   bool
	instructions string
}

// CaptureCmd creates the capture command
func CaptureCmd() *cobra.Command {
	var f captureFlags

	cmd := &cobra.Command{
		Use:   "capture [prompt...]",
		Short: "Open a browser and record its traffic",
		Long: `Open a browser and record every HTTP exchange until all tabs are
closed or Ctrl+C is pressed. The archive is written to
<output>/har/<run-id>/recording.har with a metadata.json next to it.

With --real-browser (the default) the installed Chrome is started on a
copy of your profile, so you stay logged in. If no Chrome profile exists
the bundled Chromium is used instead.

Examples:
  revapi capture "download my bank statements"
  revapi capture --url https://example.com "search for flights"
  revapi capture --real-browser=false --no-analysis`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, f, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&f.url, "url", "", "page to open when the browser starts")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "output root (default from config)")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run id (default: generated)")
	cmd.Flags().BoolVar(&f.realBrowser, "real-browser", true, "use the installed Chrome with a copy of your profile")
	cmd.Flags().StringVar(&f.driver, "driver", "", "real browser driver: playwright or cdp (default from config)")
	cmd.Flags().BoolVar(&f.noAnalysis, "no-analysis", false, "stop after capture")
	cmd.Flags().StringVar(&f.instructions, "instructions", "", "extra instructions for the analysis command")

	return cmd
}

func runCapture(cmd *cobra.Command, f captureFlags, prompt string) error {
	cfg := *AppConfig
	if cmd.Flags().Changed("real-browser") {
		cfg.Browser.PreferRealBrowser = f.realBrowser
	}
	if f.driver != "" {
		cfg.Browser.RealBrowserDriver = f.driver
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}

	bcfg, err := browser.ResolveConfig(cfg.Browser)
	if err != nil {
		return err
	}
	root, err := cfg.OutputRoot()
	if err != nil {
		return err
	}

	runID := f.runID
	if runID == "" {
		runID = newRunID(time.Now())
	}

	logger := slog.Default()
	ctrl, err := session.New(session.Options{
		RunID:             runID,
		Prompt:            prompt,
		OutputRoot:        root,
		StartURL:          f.url,
		PreferRealBrowser: bcfg.PreferRealBrowser,
		PollInterval:      bcfg.PollInterval,
	}, browser.NewDefaultLauncher(bcfg, logger), session.WithLogger(logger))
	if err != nil {
		return err
	}

	lifecycle.Default().OnSession(printSessionEvent)

	fmt.Printf("\033[1mrevapi\033[0m run %s\n", runID)
	if prompt != "" {
		fmt.Printf("  goal: %s\n", prompt)
	}

	harPath, runErr := ctrl.Run(cmd.Context())
	sess := ctrl.Session()
	paths := ctrl.Paths()

	var summary *capture.Summary
	if runErr == nil {
		if har, err := capture.Load(harPath); err == nil {
			s := har.Summary()
			summary = &s
		} else {
			slog.Warn("capture archive not readable", "error", err)
		}
	}

	catalog := openCatalog(cmd.Context())
	if catalog != nil {
		defer catalog.Close()
		recordRun(cmd.Context(), catalog, sess, paths, summary, runErr)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Println()
	fmt.Printf("Archive:  %s\n", harPath)
	fmt.Printf("Metadata: %s\n", paths.MetadataPath)
	if summary != nil {
		printSummary(*summary)
	}

	if f.noAnalysis {
		setAnalysis(cmd.Context(), catalog, runID, runs.AnalysisSkipped, "")
		return nil
	}
	return runAnalysis(cmd.Context(), &cfg, catalog, handoff.Request{
		RunID:      runID,
		HARPath:    harPath,
		Prompt:     prompt,
		ScriptsDir: paths.ScriptsDir,
		Model:      cfg.Model,
		Extra:      f.instructions,
	})
}

func runAnalysis(ctx context.Context, cfg *config.Config, catalog *runs.Store, req handoff.Request) error {
	analyzer, err := handoff.NewCommandAnalyzer(cfg.Analysis.Command, cfg.Analysis.Args, cfg.Analysis.Timeout)
	if errors.Is(err, handoff.ErrNoAnalyzer) {
		fmt.Println("\nNo analysis command configured (revapi config set analysis.command <cmd>); stopping after capture.")
		setAnalysis(ctx, catalog, req.RunID, runs.AnalysisSkipped, "")
		return nil
	}
	if err != nil {
		return err
	}
	analyzer.Stdout = os.Stdout
	analyzer.Stderr = os.Stderr

	// The capture's signal handling has ended; Ctrl+C now stops the analysis.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Notify {
		lifecycle.On(lifecycle.EventAnalysisComplete, notifyAnalysis(notify.New().Send))
	}

	fmt.Printf("\nHanding off to %s...\n", cfg.Analysis.Command)
	lifecycle.Emit(lifecycle.EventAnalysisStart, lifecycle.AnalysisEventData{RunID: req.RunID, Command: cfg.Analysis.Command})

	res, err := analyzer.Analyze(ctx, req)

	done := lifecycle.AnalysisEventData{RunID: req.RunID, Command: cfg.Analysis.Command, Err: err}
	if res != nil {
		done.DurationMS = res.Duration.Milliseconds()
		done.Output = res.ScriptsDir
		if res.ScriptPath != "" {
			done.Output = res.ScriptPath
		}
	}

	if err != nil {
		logging.Errorf("analysis of run %s failed: %v", req.RunID, err)
		lifecycle.Emit(lifecycle.EventAnalysisComplete, done)
		setAnalysis(ctx, catalog, req.RunID, runs.AnalysisFailed, err.Error())
		return err
	}
	logging.Infof("analysis of run %s finished in %s", req.RunID, res.Duration.Round(time.Second))

	if res.ScriptPath != "" {
		fmt.Printf("\033[32m✓\033[0m Client written to %s\n", res.ScriptPath)
	} else {
		fmt.Printf("Analysis finished without writing %s (see %s)\n", handoff.ClientScriptName, res.ScriptsDir)
	}
	lifecycle.Emit(lifecycle.EventAnalysisComplete, done)
	setAnalysis(ctx, catalog, req.RunID, runs.AnalysisCompleted, done.Output)
	return nil
}

// notifyAnalysis returns a handler that reports a finished analysis
// through send.
func notifyAnalysis(send func(title, body string) error) lifecycle.Handler {
	return func(e lifecycle.Event, data any) {
		d, ok := data.(lifecycle.AnalysisEventData)
		if !ok {
			return
		}
		body := fmt.Sprintf("Analysis of run %s finished: %s", d.RunID, d.Output)
		if d.Err != nil {
			body = fmt.Sprintf("Analysis of run %s failed: %v", d.RunID, d.Err)
		}
		if err := send("revapi", body); err != nil {
			logging.Debugf("analysis notification not shown: %v", err)
		}
	}
}

// newRunID returns a sortable id like 20260301-101500-1a2b3c4d.
func newRunID(now time.Time) string {
	return now.Format("20060102-150405") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func printSessionEvent(e lifecycle.Event, d lifecycle.SessionEventData) {
	switch e {
	case lifecycle.EventSessionLaunching:
		fmt.Println("Launching browser...")
	case lifecycle.EventSessionFallback:
		fmt.Println("No Chrome profile found, using the bundled browser")
	case lifecycle.EventSessionActive:
		fmt.Printf("\033[32m●\033[0m Recording (%s). Close all tabs or press Ctrl+C when done.\n", d.Strategy)
	case lifecycle.EventSignalReceived:
		fmt.Println("\nStopping...")
	case lifecycle.EventSessionClosing:
		fmt.Println("Saving capture...")
	}
}

func printSummary(s capture.Summary) {
	fmt.Printf("Requests: %d", s.Entries)
	if s.Failed > 0 {
		fmt.Printf(" (%d failed)", s.Failed)
	}
	fmt.Println()
	for _, h := range s.TopHosts(5) {
		fmt.Printf("  %-40s %d\n", h.Host, h.Count)
	}
}
