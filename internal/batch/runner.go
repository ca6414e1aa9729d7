// Package batch ingests payload files from a directory. Files are
// processed one at a time in ascending filename order, so status updates
// in later files always see the messages created by earlier ones.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/LeventeLantos/webhook-inbox/internal/service"
)

type Ingester interface {
	Ingest(ctx context.Context, raw []byte, source string) (service.Report, error)
}

type File struct {
	Name string
	Path string
}

// ListDir returns the *.json files directly inside dir, sorted by name.
func ListDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files = append(files, File{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

type FileResult struct {
	File   string         `json:"file"`
	Report service.Report `json:"report"`
	Err    string         `json:"error,omitempty"`
}

type Summary struct {
	Files   int          `json:"files"`
	Applied int          `json:"applied"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Invalid int          `json:"invalid"`
	Results []FileResult `json:"results"`
}

// Err joins the failures of every file, or returns nil when all files
// were ingested cleanly.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != "" {
			errs = append(errs, fmt.Errorf("%s: %s", r.File, r.Err))
		}
	}
	return errors.Join(errs...)
}

type Runner struct {
	ingester Ingester
	log      *slog.Logger
}

func NewRunner(ing Ingester, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ingester: ing, log: logger}
}

// RunDir ingests every payload file in dir.
func (r *Runner) RunDir(ctx context.Context, dir string) (Summary, error) {
	files, err := ListDir(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("list %s: %w", dir, err)
	}
	return r.Run(ctx, files), nil
}

// Run ingests files in the given order. A failing file is recorded and
// the run moves on to the next one; only context cancellation stops it
// early.
func (r *Runner) Run(ctx context.Context, files []File) Summary {
	var sum Summary
	for _, f := range files {
		if ctx.Err() != nil {
			r.log.Warn("batch cancelled", slog.Int("remaining", len(files)-sum.Files))
			break
		}
		sum.Files++

		res := r.runFile(ctx, f)
		sum.Applied += res.Report.Applied
		sum.Skipped += res.Report.Skipped
		sum.Failed += res.Report.Failed
		if res.Err != "" && res.Report.Failed == 0 {
			sum.Invalid++
		}
		sum.Results = append(sum.Results, res)
	}

	r.log.Info("batch finished",
		slog.Int("files", sum.Files),
		slog.Int("applied", sum.Applied),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.Int("invalid", sum.Invalid),
	)
	return sum
}

func (r *Runner) runFile(ctx context.Context, f File) FileResult {
	res := FileResult{File: f.Name}

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		res.Err = err.Error()
		r.log.Error("read payload file failed", slog.String("file", f.Name), slog.Any("err", err))
		return res
	}

	rep, err := r.ingester.Ingest(ctx, raw, f.Name)
	res.Report = rep
	if err != nil {
		res.Err = err.Error()
		r.log.Error("ingest payload file failed", slog.String("file", f.Name), slog.Any("err", err))
		return res
	}
	if err := rep.Err(); err != nil {
		res.Err = err.Error()
	}
	return res
}
