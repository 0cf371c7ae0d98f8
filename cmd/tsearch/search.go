package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hyperjump/tsearch/internal/cli"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/spf13/cobra"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		limit     int
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Search posts",
		Long: `Search titles and texts. Terms next to each other match either term;
combine them with AND, OR, NOT and parentheses. field:value restricts a term
to title or text; numeric fields (thread_id, node_id, moderation_flag,
post_date) take =, >, >=, < or <= followed by an integer.

Examples:
  tsearch search студент программист
  tsearch search "стать программистом" AND node_id:10
  tsearch search --server "" --output compact кот   # read the index directly`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			q := models.SearchQuery{Query: buildSearchQuery(args), TopK: limit}
			var resp *models.SearchResponse
			if serverURL != "" {
				resp = &models.SearchResponse{}
				err = newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/api/v1/search", q, resp, http.StatusOK)
			} else {
				resp, err = searchDirect(cmd.Context(), opts, q)
			}
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, `server URL (empty = open the index directly; fails while a server holds it)`)
	cmd.Flags().IntVar(&limit, "limit", 0, "number of results (0 = configured default)")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text, compact, or json")
	return cmd
}

func searchDirect(ctx context.Context, opts *rootOptions, q models.SearchQuery) (*models.SearchResponse, error) {
	cfg, _, logger, err := opts.setup()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	c, err := openComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Search.Search(ctx, q)
}

func newModifyCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		overwrite bool
		del       bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "modify [flags] <file|->",
		Short: "Apply a modify request",
		Long: `Apply a modify request read from a JSON file (or stdin with "-"). The file
holds either a full request {"overwrite":..,"delete":..,"posts":[..],"commands":[..]}
or a bare array of posts, in which case --overwrite and --delete apply.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			req, err := readModifyRequest(cmd.InOrStdin(), args[0], overwrite, del)
			if err != nil {
				return err
			}
			var res *models.BatchResult
			if serverURL != "" {
				res = &models.BatchResult{}
				err = newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/api/v1/modify", req, res, http.StatusOK)
			} else {
				res, err = modifyDirect(cmd.Context(), opts, req)
			}
			if err != nil {
				return fmt.Errorf("modify failed: %w", err)
			}
			return cli.WriteBatchResult(cmd.OutOrStdout(), res, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open the index directly)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace posts that already exist (bare post arrays only)")
	cmd.Flags().BoolVar(&del, "delete", false, "delete the listed posts (bare post arrays only)")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func readModifyRequest(stdin io.Reader, name string, overwrite, del bool) (*models.ModifyRequest, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	var posts []models.Post
	if err := json.Unmarshal(data, &posts); err == nil {
		return &models.ModifyRequest{Overwrite: overwrite, Delete: del, Posts: posts}, nil
	}
	var req models.ModifyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCommand, err)
	}
	return &req, nil
}

func modifyDirect(ctx context.Context, opts *rootOptions, req *models.ModifyRequest) (*models.BatchResult, error) {
	cmds, err := req.ToCommands()
	if err != nil {
		return nil, err
	}
	cfg, _, logger, err := opts.setup()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	c, err := openComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Coordinator.Apply(ctx, cmds)
}

func newDropCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete every post from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("drop deletes every post; pass --yes to confirm")
			}
			var out struct {
				Deleted uint64 `json:"deleted"`
				Chunks  int    `json:"chunks"`
			}
			var err error
			if serverURL != "" {
				err = newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/api/v1/drop", nil, &out, http.StatusOK)
			} else {
				out.Deleted, out.Chunks, err = dropDirect(cmd.Context(), opts)
			}
			if err != nil {
				return fmt.Errorf("drop failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d post(s) in %d chunk(s)\n", out.Deleted, out.Chunks)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open the index directly)")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every post")
	return cmd
}

func dropDirect(ctx context.Context, opts *rootOptions) (uint64, int, error) {
	cfg, _, logger, err := opts.setup()
	if err != nil {
		return 0, 0, err
	}
	defer logger.Sync()
	c, err := openComponents(cfg, logger)
	if err != nil {
		return 0, 0, err
	}
	defer c.Close()
	progress, err := c.Coordinator.ClearAll(ctx)
	return progress.Deleted, progress.Chunks, err
}
