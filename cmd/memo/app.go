package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/cli"
	"github.com/hyperjump/memo/internal/config"
	"github.com/hyperjump/memo/internal/embedding"
	"github.com/hyperjump/memo/internal/storage"
	"github.com/hyperjump/memo/internal/store"
	"github.com/hyperjump/memo/internal/vector"
	"github.com/hyperjump/memo/pkg/utils"
)

// app holds what every command needs once the persistent flags are parsed.
type app struct {
	configPath string
	file       string
	verbose    bool
	layout     string
	indexType  string
	output     string

	cfg    *config.Config
	logger *zap.Logger
	format cli.OutputFormat
}

// defaultConfigPath returns <user config dir>/memo/config.yaml.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "memo", "config.yaml")
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "memo",
		Short: "A personal memory store with similarity recall and metadata analysis",
		Long: `memo stores short notes with metadata and recalls them by similarity.

Examples:
  memo save notes.yaml
  memo recall -k 3 --filter '{source: cli}' buy milk
  memo analyze --filter '{}' --stats source
  memo clean`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file path (default: <user config dir>/memo/config.yaml)")
	pf.StringVarP(&a.file, "file", "f", "", "store base path (default: memo)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose logs to stderr")
	pf.StringVar(&a.layout, "layout", "", "record table layout: yaml, framed or sqlite")
	pf.StringVar(&a.indexType, "index-type", "", "vector index: hnsw, flat or faiss")
	pf.StringVarP(&a.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		a.saveCmd(),
		a.recallCmd(),
		a.analyzeCmd(),
		a.cleanCmd(),
		a.migrateCmd(),
		a.reindexCmd(),
		a.statusCmd(),
		a.serveCmd(),
		a.watchCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

// setup loads the config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
	} else {
		a.cfg, err = config.LoadOrDefault(defaultConfigPath())
	}
	if err != nil {
		return err
	}
	if a.file != "" {
		a.cfg.Store.Base = a.file
	}
	if a.layout != "" {
		a.cfg.Store.Layout = a.layout
	}
	if a.indexType != "" {
		a.cfg.Index.Type = a.indexType
	}
	if a.format, err = cli.ParseOutputFormat(a.output); err != nil {
		return err
	}
	a.logger, err = utils.NewCLILogger(a.verbose || a.cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

// useServiceLogger swaps the CLI logger for the one long-running commands
// use: info level, JSON unless debugging.
func (a *app) useServiceLogger() error {
	logger, err := utils.NewLogger(a.verbose || a.cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	_ = a.logger.Sync()
	a.logger = logger
	return nil
}

func (a *app) storeLayout() (storage.Layout, error) {
	return storage.ParseLayout(a.cfg.Store.Layout)
}

func (a *app) indexParams() vector.Params {
	return vector.Params{
		M:              a.cfg.Index.M,
		EfConstruction: a.cfg.Index.EfConstruction,
		EfSearch:       a.cfg.Index.EfSearch,
		Compress:       a.cfg.Index.CompressOrDefault(),
	}
}

// openStore opens the configured store. Nothing is read from disk yet.
func (a *app) openStore() (*store.Store, error) {
	layout, err := a.storeLayout()
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewCachedEmbedder(
		embedding.NewHashEmbedder(a.cfg.Embedding.Dimensions),
		a.cfg.Embedding.CacheSize,
	)
	st, err := store.New(a.cfg.Store.Base, layout, embedder,
		store.WithLogger(a.logger),
		store.WithIndexType(a.cfg.Index.Type),
		store.WithIndexParams(a.indexParams()),
		store.WithScoreFloor(a.cfg.Recall.ScoreFloorOrDefault()),
	)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("store opened",
		zap.String("base", st.Base()),
		zap.String("layout", string(st.Layout())),
		zap.String("index_type", a.cfg.Index.Type))
	return st, nil
}
