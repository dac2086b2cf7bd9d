package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/memo/internal/analyze"
	"github.com/hyperjump/memo/internal/cli"
	"github.com/hyperjump/memo/internal/filter"
	"github.com/hyperjump/memo/internal/models"
	"github.com/hyperjump/memo/internal/storage"
)

// --- save ---

func (a *app) saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <yaml_file>",
		Short: "Memorize the records of a YAML file",
		Long: `Memorize the records of a YAML file (single or multi-doc using ---).

Each document requires body: <string> and may carry metadata: <map>.
An optional id: <int> overwrites that existing record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := cli.ReadRecordInputs(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			resp, err := st.Save(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			return cli.WriteSaved(cmd.OutOrStdout(), resp, a.format)
		},
	}
}

// --- recall ---

func (a *app) recallCmd() *cobra.Command {
	var k int
	var filterText string
	cmd := &cobra.Command{
		Use:   "recall [-k N] [--filter <expr>] <query>",
		Short: "Recall the records most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := models.RecallQuery{Query: strings.Join(args, " "), Filter: filterText}
			if cmd.Flags().Changed("k") {
				q.K = &k
			}
			if err := q.Normalize(a.cfg.Recall.DefaultK, a.cfg.Recall.MaxK); err != nil {
				return err
			}

			var f *filter.Expr
			if cmd.Flags().Changed("filter") {
				expr, err := filter.Parse(q.Filter)
				if err != nil {
					return fmt.Errorf("invalid --filter expression: %w", err)
				}
				f = &expr
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			resp, err := st.Recall(cmd.Context(), q.Query, *q.K, f)
			if err != nil {
				return err
			}
			return cli.WriteRecall(cmd.OutOrStdout(), resp, a.format)
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of results (default from config: 2)")
	cmd.Flags().StringVar(&filterText, "filter", "", "filter results by metadata, e.g. '{source: cli}'")
	return cmd
}

// --- analyze ---

func (a *app) analyzeCmd() *cobra.Command {
	var filterText, fieldsText, statsKey string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "analyze --filter <expr> [--fields <list>] [--stats <key>] [--limit N] [--offset N]",
		Short: "Tabulate or summarize the metadata of matching records",
		Long: `Tabulate or summarize the metadata of matching records.

Examples:
  memo analyze --filter '{}' --fields id,source,metadata
  memo analyze --filter '{source: cli}' --stats score`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("filter") {
				return fmt.Errorf("analyze requires --filter <expr>")
			}
			expr, err := filter.Parse(filterText)
			if err != nil {
				return fmt.Errorf("invalid --filter expression: %w", err)
			}
			q := analyze.Query{Filter: &expr, Limit: limit, Offset: offset}
			if !cmd.Flags().Changed("limit") {
				q.Limit = a.cfg.Analyze.DefaultLimit
			}
			if cmd.Flags().Changed("fields") {
				if q.Fields = splitFields(fieldsText); len(q.Fields) == 0 {
					return fmt.Errorf("--fields requires at least one field")
				}
			}
			if cmd.Flags().Changed("stats") {
				if q.StatsKey = strings.TrimSpace(statsKey); q.StatsKey == "" {
					return fmt.Errorf("--stats requires a non-empty key")
				}
			}
			if err := q.Validate(); err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			res, err := st.Analyze(cmd.Context(), q)
			if err != nil {
				return err
			}
			return cli.WriteAnalyze(cmd.OutOrStdout(), res, a.format)
		},
	}
	cmd.Flags().StringVar(&filterText, "filter", "", "metadata filter expression (required)")
	cmd.Flags().StringVar(&fieldsText, "fields", "", "comma-separated columns, e.g. id,source,metadata")
	cmd.Flags().StringVar(&statsKey, "stats", "", "cardinality and numeric/date-like range for key")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to print (default from config: 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip before printing")
	return cmd
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// --- clean ---

func (a *app) cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete every file of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			res, err := st.Clean(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteClean(cmd.OutOrStdout(), res, a.format)
		},
	}
}

// --- migrate ---

func (a *app) migrateCmd() *cobra.Command {
	var from, to string
	var force bool
	cmd := &cobra.Command{
		Use:   "migrate --from <layout> --to <layout> [--force]",
		Short: "Copy the record table into another layout",
		Long: `Copy the record table into another layout. The vector index is not touched.

Example:
  memo migrate --from framed --to yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := storage.ResolveBase(a.cfg.Store.Base)
			if err != nil {
				return err
			}
			src, err := a.openTable(base, from)
			if err != nil {
				return err
			}
			dst, err := a.openTable(base, to)
			if err != nil {
				return err
			}
			n, err := storage.Migrate(cmd.Context(), src, dst, force, a.logger)
			if err != nil {
				return err
			}
			return cli.WriteMigrated(cmd.OutOrStdout(), n, dst.Paths(), storage.IndexPath(base))
		},
	}
	cmd.Flags().StringVar(&from, "from", "framed", "source layout")
	cmd.Flags().StringVar(&to, "to", "yaml", "destination layout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing destination")
	return cmd
}

func (a *app) openTable(base, name string) (storage.RecordTable, error) {
	layout, err := storage.ParseLayout(name)
	if err != nil {
		return nil, err
	}
	return storage.Open(base, layout, storage.WithLogger(a.logger))
}

// --- reindex ---

func (a *app) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the record table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := st.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d records (%s)\n", n, st.IndexPath())
			return err
		},
	}
}

// --- status ---

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the store files, sizes and index state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			status, err := st.Status(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), status, a.format)
		},
	}
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memo version %s\n", version)
		},
	}
}
