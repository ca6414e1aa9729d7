package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LeventeLantos/webhook-inbox/internal/batch"
	"github.com/LeventeLantos/webhook-inbox/internal/client"
)

type ReplayFlags struct {
	URL   string
	Dir   string
	Delay time.Duration
}

func (f *ReplayFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.URL, "url", f.URL, "base URL of a running inbox server")
	fs.StringVar(&f.Dir, "dir", f.Dir, "directory of *.json payload files")
	fs.DurationVar(&f.Delay, "delay", f.Delay, "pause between payloads")
}

func newReplayCommand() *cobra.Command {
	f := &ReplayFlags{URL: "http://localhost:8080"}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Post payload files to a running server's webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Dir == "" {
				return errors.New("--dir is required")
			}
			files, err := batch.ListDir(f.Dir)
			if err != nil {
				return err
			}

			c := client.NewInboxClient(f.URL)
			var failed int
			for i, file := range files {
				if i > 0 && f.Delay > 0 {
					time.Sleep(f.Delay)
				}
				raw, err := os.ReadFile(file.Path)
				if err != nil {
					return err
				}
				ack, err := c.PostPayload(cmd.Context(), raw)
				if err != nil {
					failed++
					slog.Error("replay failed", slog.String("file", file.Name), slog.Any("err", err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tshape=%s applied=%d skipped=%d\n",
					file.Name, ack.Report.Shape, ack.Report.Applied, ack.Report.Skipped)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d payloads failed", failed, len(files))
			}
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
