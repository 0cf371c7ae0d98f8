package config

import "github.com/hyperjump/tsearch/internal/textpipe"

// DefaultPostsQuery selects every post from the forum's message table.
const DefaultPostsQuery = `SELECT thread_id, title, text, node_id, need_moder, post_date FROM threads_message_extra`

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 64 << 20
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "/usr/local/var/tsearch/index"
	}
	if cfg.Index.ClearChunkSize == 0 {
		cfg.Index.ClearChunkSize = 10000
	}
	if cfg.Analysis.Language == "" {
		cfg.Analysis.Language = "ru"
	}
	if cfg.Analysis.MaxTokenLength == 0 {
		cfg.Analysis.MaxTokenLength = textpipe.DefaultMaxTokenLength
	}
	if cfg.Analysis.Substitutions == nil {
		cfg.Analysis.Substitutions = map[string]string{"-": " "}
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.CacheSize == 0 {
		cfg.Search.CacheSize = 1024
	}
	if cfg.Source.Query == "" {
		cfg.Source.Query = DefaultPostsQuery
	}
	if cfg.Source.BatchSize == 0 {
		cfg.Source.BatchSize = 5000
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".json"}
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 500
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
