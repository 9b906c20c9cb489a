package main

import (
	"io"
	"time"

	"pharmaclear/integrations/exports"
	"pharmaclear/services/indexer"
)

func runExport(a *app, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("export", stderr)
	out := fs.String("out", "", "output directory (defaults to <DataDir>/exports)")
	fromRound := fs.Uint64("from-round", 0, "first round to include")
	toRound := fs.Uint64("to-round", 0, "last round to include (0 for no bound)")
	kind := fs.String("kind", "", "domestic or crossborder (default both)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if a.indexDB == nil {
		return nil, errIndexerDisabled
	}
	query := a.indexDB.Order("id asc").Where("round >= ?", *fromRound)
	if *toRound > 0 {
		query = query.Where("round <= ?", *toRound)
	}
	if *kind != "" {
		query = query.Where("kind = ?", *kind)
	}
	var rows []indexer.SettlementRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	dir := *out
	if dir == "" {
		dir = resolvePath(a.cfg.DataDir, "exports")
	}
	manifest, err := exports.Run(dir, rows, time.Now())
	if err != nil {
		return nil, err
	}
	a.logger.Info("settlement export written", "runId", manifest.RunID, "count", manifest.Count)
	return manifest, nil
}
