package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-cli/internal/fetcher"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Ingest a CSV or XLSX file of provider records and process them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, batchID, err := ingestFile(ctx, env.Store, args[0], batchLimit)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			zap.L().Info("no rows to process")
			return nil
		}

		processed := processBatch(ctx, env.Pipeline, ids, cfg.Batch.MaxConcurrentSubmissions)
		zap.L().Info("batch complete",
			zap.String("batch_id", batchID),
			zap.Int("submitted", len(ids)),
			zap.Int64("processed", processed),
		)
		return nil
	},
}

// ingestFile reads rows from a CSV or XLSX file and creates one submission
// per row, all tagged with a shared batch ID.
func ingestFile(ctx context.Context, st store.Store, path string, limit int) ([]int64, string, error) {
	rows, err := readRows(ctx, path)
	if err != nil {
		return nil, "", err
	}
	if len(rows) == 0 {
		return nil, "", eris.Errorf("%s: empty file", path)
	}

	mapper := fetcher.NewRowMapper(rows[0])
	if !mapper.HasNPIColumn() {
		return nil, "", eris.Errorf("%s: no NPI column found in header", path)
	}
	rows = rows[1:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	batchID := uuid.NewString()
	var ids []int64
	for _, row := range rows {
		npi, payload := mapper.Map(row)
		if len(payload) == 0 {
			continue
		}
		payload["batch_id"] = batchID

		sub, err := st.CreateSubmission(ctx, model.SourceCSV, npi, payload)
		if err != nil {
			return nil, "", eris.Wrap(err, "create submission")
		}
		ids = append(ids, sub.ID)
	}

	zap.L().Info("batch ingested",
		zap.String("batch_id", batchID),
		zap.String("file", path),
		zap.Int("rows", len(ids)),
	)
	return ids, batchID, nil
}

func readRows(ctx context.Context, path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close()

		rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true})
		var rows [][]string
		for row := range rowCh {
			rows = append(rows, row)
		}
		if err := <-errCh; err != nil {
			return nil, eris.Wrapf(err, "parse %s", path)
		}
		return rows, nil
	}
}

// processor runs one submission; satisfied by *pipeline.Pipeline.
type processor interface {
	Process(ctx context.Context, submissionID int64) error
}

// processBatch runs submissions concurrently with bounded parallelism.
// Individual failures are logged and do not stop the batch. Returns the
// count of submissions that completed without infrastructure errors.
func processBatch(ctx context.Context, p processor, ids []int64, concurrency int) int64 {
	if concurrency <= 0 {
		concurrency = 4
	}

	zap.L().Info("processing batch",
		zap.Int("submissions", len(ids)),
		zap.Int("concurrency", concurrency),
	)

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if err := p.Process(gctx, id); err != nil {
				zap.L().Error("submission failed",
					zap.Int64("submission_id", id),
					zap.Error(err))
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return processed.Load()
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of rows to process (0 = all)")
	rootCmd.AddCommand(batchCmd)
}
