package config

// Defaults.
const (
	DefaultBase           = "memo"
	DefaultLayout         = "yaml"
	DefaultIndexType      = "hnsw"
	DefaultM              = 32
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	DefaultDimensions     = 384
	DefaultCacheSize      = 1024
	DefaultK              = 2
	DefaultMaxK           = 100
	DefaultScoreFloor     = -0.9
	DefaultAnalyzeLimit   = 100
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Store.Base == "" {
		cfg.Store.Base = DefaultBase
	}
	if cfg.Store.Layout == "" {
		cfg.Store.Layout = DefaultLayout
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = DefaultIndexType
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = DefaultM
	}
	if cfg.Index.EfConstruction == 0 {
		cfg.Index.EfConstruction = DefaultEfConstruction
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = DefaultEfSearch
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = DefaultCacheSize
	}
	if cfg.Recall.DefaultK == 0 {
		cfg.Recall.DefaultK = DefaultK
	}
	if cfg.Recall.MaxK == 0 {
		cfg.Recall.MaxK = DefaultMaxK
	}
	if cfg.Analyze.DefaultLimit == 0 {
		cfg.Analyze.DefaultLimit = DefaultAnalyzeLimit
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".yaml", ".yml"}
	}
}
