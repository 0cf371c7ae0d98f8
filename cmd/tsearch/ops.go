package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/tsearch/internal/config"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/reindex"
	"github.com/hyperjump/tsearch/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var (
		overwrite bool
		batchSize int
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Load every post from the source database into the index",
		Long: `Load every post from the database configured under source and apply it
to the index in batches. Posts already indexed are skipped unless
--overwrite is set. The index is opened directly, so stop the server first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), opts, cmd.ErrOrStderr(), overwrite, batchSize, quiet)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace posts that are already indexed")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "posts per commit (0 = source.batch_size)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not render a progress bar")
	return cmd
}

func runReindex(ctx context.Context, opts *rootOptions, progress io.Writer, overwrite bool, batchSize int, quiet bool) error {
	cfg, _, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.Source.Driver == "" {
		return errors.New("no source database configured (source.driver)")
	}

	src, err := source.Open(ctx, cfg.Source.Driver, cfg.Source.DSN, cfg.Source.Query, source.WithLogger(logger))
	if err != nil {
		return err
	}
	defer src.Close()

	c, err := openComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if batchSize <= 0 {
		batchSize = cfg.Source.BatchSize
	}
	rOpts := []reindex.Option{
		reindex.WithLogger(logger),
		reindex.WithBatchSize(batchSize),
		reindex.WithOverwrite(overwrite),
	}
	if !quiet {
		rOpts = append(rOpts, reindex.WithProgress(progress))
	}
	stats, err := reindex.New(src, c.Coordinator, rOpts...).Run(ctx)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	if err := c.Engine.GarbageCollect(ctx); err != nil {
		logger.Warn("garbage collection after reindex failed", zap.Error(err))
	}
	fmt.Fprintf(progress, "Loaded %d post(s): %d added, %d replaced, %d skipped in %s\n",
		stats.Loaded, stats.Added, stats.Replaced, stats.Skipped, stats.Duration.Round(time.Millisecond))
	return nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Documents        uint64   `json:"documents"`
	Generation       uint64   `json:"generation"`
	DiskUsageBytes   int64    `json:"disk_usage_bytes"`
	IndexPath        string   `json:"index_path"`
	WatchDirectories []string `json:"watch_directories,omitempty"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status statusResponse
			if serverURL != "" {
				if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &status, http.StatusOK); err != nil {
					return fmt.Errorf("status failed: %w", err)
				}
			} else {
				st, err := statusDirect(opts)
				if err != nil {
					return fmt.Errorf("status failed: %w", err)
				}
				status = statusResponse{Documents: st.Documents, Generation: st.Generation, DiskUsageBytes: st.DiskBytes, IndexPath: st.Path}
			}
			return writeStatus(cmd.OutOrStdout(), status, output)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open the index directly)")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func statusDirect(opts *rootOptions) (engine.Stats, error) {
	cfg, _, logger, err := opts.setup()
	if err != nil {
		return engine.Stats{}, err
	}
	defer logger.Sync()
	c, err := openComponents(cfg, logger)
	if err != nil {
		return engine.Stats{}, err
	}
	defer c.Close()
	return c.Engine.Stats()
}

func writeStatus(w io.Writer, status statusResponse, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "text":
		fmt.Fprintf(w, "documents:          %d   # count of indexed posts\n", status.Documents)
		fmt.Fprintf(w, "generation:         %d   # commits since the index was opened\n", status.Generation)
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", status.DiskUsageBytes)
		if status.IndexPath != "" {
			fmt.Fprintf(w, "index_path:         %s\n", status.IndexPath)
		}
		for _, d := range status.WatchDirectories {
			fmt.Fprintf(w, "watch_directory:    %s\n", d)
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q; use text or json", output)
}

func newWatchCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage spool directories of a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "server URL")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <path>",
			Short: "Watch a spool directory and apply the requests already in it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				body := map[string]interface{}{"path": path, "sync": true}
				if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/api/v1/watch/directories", body, nil, http.StatusCreated); err != nil {
					return fmt.Errorf("add failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <path>",
			Short: "Stop watching a spool directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				endpoint := "/api/v1/watch/directories?path=" + url.QueryEscape(path)
				if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodDelete, endpoint, nil, nil, http.StatusOK); err != nil {
					return fmt.Errorf("remove failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List spool directories",
			RunE: func(cmd *cobra.Command, args []string) error {
				var out struct {
					Directories []string `json:"directories"`
				}
				if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/api/v1/watch/directories", nil, &out, http.StatusOK); err != nil {
					return fmt.Errorf("list failed: %w", err)
				}
				for _, d := range out.Directories {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			},
		},
	)
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a config file with every default filled in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
