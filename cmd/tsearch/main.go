// Package main is the tsearch CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/tsearch/internal/cli"
	"github.com/hyperjump/tsearch/internal/config"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/mutation"
	"github.com/hyperjump/tsearch/internal/schema"
	"github.com/hyperjump/tsearch/internal/search"
	"github.com/hyperjump/tsearch/internal/textpipe"
	"github.com/hyperjump/tsearch/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tsearch/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tsearch",
		Short: "Full-text search over forum posts",
		Long: `tsearch indexes forum posts (thread id, title, text and a few numeric
attributes) and answers boolean keyword queries over titles and texts.

Examples:
  tsearch server
  tsearch search "студент программист"
  tsearch search --output json "(кот OR пёс) AND node_id:10"
  tsearch modify --overwrite posts.json
  tsearch reindex
  tsearch drop --yes
  tsearch status`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServerCmd(opts),
		newSearchCmd(opts),
		newModifyCmd(opts),
		newDropCmd(opts),
		newReindexCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(),
		newInitConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tsearch version %s\n", version)
		},
	}
}

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so commands run from a checkout
// use its config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and builds the logger.
func (o *rootOptions) setup() (*config.Config, string, *zap.Logger, error) {
	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return nil, "", nil, err
	}
	debug := cfg.Debug || o.debug
	logger, err := utils.NewLogger(debug, cfg.LogLevel)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, path, logger, nil
}

// components are the services backed by the local index.
type components struct {
	Engine      *engine.Engine
	Coordinator *mutation.Coordinator
	Search      *search.Service
}

func (c *components) Close() {
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
}

func openComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	pipeline, err := textpipe.New(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	e, err := engine.Open(cfg.Index.Path, schema.New(pipeline), engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	svc, err := search.NewService(e,
		search.WithLogger(logger),
		search.WithDefaultTopK(cfg.Search.DefaultTopK),
		search.WithMaxTopK(cfg.Search.MaxTopK),
		search.WithCacheSize(cfg.Search.CacheSize),
	)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	coord := mutation.New(e,
		mutation.WithLogger(logger),
		mutation.WithChunkSize(cfg.Index.ClearChunkSize),
	)
	return &components{Engine: e, Coordinator: coord, Search: svc}, nil
}

func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text":
		return cli.OutputText, nil
	case "compact":
		return cli.OutputCompact, nil
	case "json":
		return cli.OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

// buildSearchQuery joins positional args so multi-word queries work with or
// without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
