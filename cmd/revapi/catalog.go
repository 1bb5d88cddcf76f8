package cli

import (
	"context"

	"github.com/neboloop/revapi/internal/capture"
	"github.com/neboloop/revapi/internal/defaults"
	"github.com/neboloop/revapi/internal/logging"
	"github.com/neboloop/revapi/internal/runs"
	"github.com/neboloop/revapi/internal/session"
)

// openCatalog opens the run catalog. The catalog is a convenience, so
// failures are logged and nil is returned.
func openCatalog(ctx context.Context) *runs.Store {
	path, err := defaults.CatalogPath()
	if err != nil {
		logging.Warnf("run catalog unavailable: %v", err)
		return nil
	}
	store, err := runs.Open(ctx, path)
	if err != nil {
		logging.Warnf("run catalog at %s unavailable: %v", path, err)
		return nil
	}
	return store
}

func recordRun(ctx context.Context, catalog *runs.Store, sess session.Session, paths session.Paths, summary *capture.Summary, runErr error) {
	rec := runs.RunRecord{
		ID:           sess.RunID,
		Prompt:       sess.Prompt,
		Status:       runs.StatusCompleted,
		StartURL:     sess.StartURL,
		HARPath:      paths.HARPath,
		MetadataPath: paths.MetadataPath,
		ScriptsDir:   paths.ScriptsDir,
		StartedAt:    sess.StartedAt,
		EndedAt:      sess.EndedAt,
	}
	if m, err := session.ReadMetadata(paths.MetadataPath); err == nil {
		rec.Strategy = m.Strategy
		rec.Driver = m.Driver
	}
	if summary != nil {
		rec.Entries = summary.Entries
	}
	if runErr != nil {
		rec.Status = runs.StatusFailed
		rec.Error = runErr.Error()
	}
	if err := catalog.Record(context.WithoutCancel(ctx), rec); err != nil {
		logging.Warnf("failed to record run %s: %v", rec.ID, err)
	}
}

func setAnalysis(ctx context.Context, catalog *runs.Store, runID, status, output string) {
	if catalog == nil {
		return
	}
	if err := catalog.SetAnalysis(context.WithoutCancel(ctx), runID, status, output); err != nil {
		logging.Warnf("failed to record analysis for %s: %v", runID, err)
	}
}
