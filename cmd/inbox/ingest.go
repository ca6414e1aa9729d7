package main

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LeventeLantos/webhook-inbox/internal/batch"
	"github.com/LeventeLantos/webhook-inbox/internal/config"
	"github.com/LeventeLantos/webhook-inbox/internal/repo"
	"github.com/LeventeLantos/webhook-inbox/internal/service"
)

type IngestFlags struct {
	Dir    string
	DryRun bool
}

func (f *IngestFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Dir, "dir", f.Dir, "directory of *.json payload files")
	fs.BoolVar(&f.DryRun, "dry-run", f.DryRun, "ingest into an in-memory store and only print the summary")
}

func newIngestCommand() *cobra.Command {
	f := &IngestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a directory of payload files in filename order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Dir == "" {
				return errors.New("--dir is required")
			}
			ctx := cmd.Context()

			var store repo.Store
			var businessPhone string
			if f.DryRun {
				store = repo.NewMemoryStore()
			} else {
				cfg, err := config.LoadAll()
				if err != nil {
					return err
				}
				if store, err = openStore(ctx, cfg.Store); err != nil {
					return err
				}
				businessPhone = cfg.Ingest.BusinessPhone
			}
			defer store.Close()

			ing := service.NewIngester(store,
				service.WithLogger(slog.Default()),
				service.WithBusinessPhone(businessPhone),
			)
			sum, err := batch.NewRunner(ing, slog.Default()).RunDir(ctx, f.Dir)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return err
			}
			if sum.Failed > 0 {
				return errors.New("some payloads could not be stored")
			}
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
