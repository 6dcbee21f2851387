package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/lapclock/config"
	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/service"
)

var renderFlags struct {
	input       string
	laps        string
	mode        string
	startOffset float64
	output      string
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one overlay video in-process and wait for it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.FromContext(cmd.Context())

		raw, err := readLaps(renderFlags.laps, cmd.InOrStdin())
		if err != nil {
			return err
		}

		output := renderFlags.output
		if output == "" {
			output = filepath.Join(filepath.Dir(renderFlags.input), service.OutputName(renderFlags.input))
		}

		return runRender(cmd, cfg, raw, output)
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderFlags.input, "input", "i", "", "session video to overlay")
	renderCmd.Flags().StringVarP(&renderFlags.laps, "laps", "l", "", "JSON file with the lap list, - for stdin")
	renderCmd.Flags().StringVarP(&renderFlags.mode, "mode", "m", "", "filtergraph, framepipe or imageseq (default from config)")
	renderCmd.Flags().Float64Var(&renderFlags.startOffset, "start-offset", 0, "seconds into the video where lap 1 starts")
	renderCmd.Flags().StringVarP(&renderFlags.output, "output", "o", "", "output file (default: <input>-lapclock.mp4 next to the input)")
	_ = renderCmd.MarkFlagRequired("input")
	_ = renderCmd.MarkFlagRequired("laps")
}

func runRender(cmd *cobra.Command, cfg *config.Config, raw []domain.RawLap, output string) error {
	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	dataDir, err := os.MkdirTemp(cfg.Server.DataDir, "render-*")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(dataDir) //nolint:errcheck

	a, err := newApp(cfg, appOptions{dataDir: dataDir, store: "memory"})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	mode := domain.ParseMode(renderFlags.mode)
	if mode == "" {
		mode = cfg.DefaultMode()
	}

	ctx := cmd.Context()
	id, err := a.orchestrator.Submit(ctx, service.SubmitRequest{
		InputPath:   renderFlags.input,
		Laps:        raw,
		Mode:        mode,
		StartOffset: renderFlags.startOffset,
	})
	if err != nil {
		return err
	}

	job, err := waitForJob(ctx, a, id, func(progress float64) {
		cmd.PrintErrf("\rrendering %5.1f%%", progress)
	})
	cmd.PrintErrln()
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusComplete {
		return fmt.Errorf("render %s (%s): %s", job.Status, job.ErrorKind, job.ErrorMessage)
	}

	if err := moveFile(job.OutputPath, output); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if info, err := os.Stat(output); err == nil {
		cmd.PrintErrf("wrote %s in %s\n", domain.FormatSize(info.Size()), time.Since(job.CreatedAt).Round(time.Second))
	}
	cmd.Printf("%s\n", output)
	return nil
}

// waitForJob blocks until the job is terminal. An interrupt cancels the job
// and keeps waiting for it to wind down.
func waitForJob(ctx context.Context, a *app, id string, onProgress func(float64)) (domain.RenderJob, error) {
	events, unsubscribe := a.events.Subscribe(id)
	defer unsubscribe()

	done := ctx.Done()
	last := -1.0
	for {
		job, err := a.orchestrator.Status(id)
		if err != nil {
			return domain.RenderJob{}, err
		}
		if job.IsTerminal() {
			return job, nil
		}
		if job.Progress != last {
			last = job.Progress
			onProgress(job.Progress)
		}

		select {
		case <-events:
		case <-time.After(time.Second):
		case <-done:
			done = nil
			if err := a.orchestrator.Cancel(id); err != nil && !errors.Is(err, domain.ErrTerminal) {
				return domain.RenderJob{}, err
			}
		}
	}
}

func readLaps(path string, stdin io.Reader) ([]domain.RawLap, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open laps: %w", err)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var laps []domain.RawLap
	if err := json.NewDecoder(r).Decode(&laps); err != nil {
		return nil, fmt.Errorf("decode laps: %w", err)
	}
	return laps, nil
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
