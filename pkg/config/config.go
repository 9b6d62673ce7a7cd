/*
Package config manages the TOML config for pcserve services.
*/
package config

import (
	"path/filepath"

	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/dictionary"
	"github.com/bastiangx/pcserve/pkg/index"
	"github.com/bastiangx/pcserve/pkg/suggest"
	"github.com/charmbracelet/log"
)

// FileName is the config file looked up in the config directory.
const FileName = "pcserve.toml"

// Config holds the entire config structure
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Data    DataConfig    `toml:"data"`
	Index   IndexConfig   `toml:"index"`
	Suggest SuggestConfig `toml:"suggest"`
	CLI     CliConfig     `toml:"cli"`
}

// ServerConfig has IPC limits.
type ServerConfig struct {
	MaxLimit int `toml:"max_limit"`
	MaxText  int `toml:"max_text"`
}

// DataConfig locates the reference files.
type DataConfig struct {
	Dir         string `toml:"dir"`
	Tables      string `toml:"tables"`
	Index       string `toml:"index"`
	Definitions string `toml:"definitions"`
	Watch       bool   `toml:"watch"`
	CacheSize   int    `toml:"cache_size"`
}

// IndexConfig holds synonym search options.
type IndexConfig struct {
	SearchLimit int    `toml:"search_limit"`
	ScoreCutoff int    `toml:"score_cutoff"`
	Scorer      string `toml:"scorer"`
}

// SuggestConfig mirrors suggest.Options.
type SuggestConfig struct {
	TopHits       int     `toml:"top_hits"`
	NgramHits     int     `toml:"ngram_hits"`
	ScoreCutoff   int     `toml:"score_cutoff"`
	MaxTextAnchor int     `toml:"max_text_anchor"`
	MaxNgrams     int     `toml:"max_ngrams"`
	ExpandLimit   int     `toml:"expand_limit"`
	MaxCodes      int     `toml:"max_codes"`
	ExactBonus    float64 `toml:"exact_bonus"`
	ApproachBonus float64 `toml:"approach_bonus"`
	Workers       int     `toml:"workers"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	patterns := dictionary.DefaultPatterns()
	opts := suggest.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			MaxLimit: 200,
			MaxText:  20000,
		},
		Data: DataConfig{
			Dir:         "data/",
			Tables:      patterns.Tables,
			Index:       patterns.Index,
			Definitions: patterns.Definitions,
			Watch:       false,
			CacheSize:   6,
		},
		Index: IndexConfig{
			SearchLimit: 20,
			ScoreCutoff: 70,
			Scorer:      index.ScorerTokenSet,
		},
		Suggest: SuggestConfig{
			TopHits:       opts.TopHits,
			NgramHits:     opts.NgramHits,
			ScoreCutoff:   opts.ScoreCutoff,
			MaxTextAnchor: opts.MaxTextAnchor,
			MaxNgrams:     opts.MaxNgrams,
			ExpandLimit:   opts.ExpandLimit,
			MaxCodes:      opts.MaxCodes,
			ExactBonus:    opts.ExactBonus,
			ApproachBonus: opts.ApproachBonus,
			Workers:       opts.Workers,
		},
		CLI: CliConfig{
			DefaultLimit: 24,
		},
	}
}

// Patterns returns the discovery globs.
func (c *Config) Patterns() dictionary.Patterns {
	return dictionary.Patterns{
		Tables:      c.Data.Tables,
		Index:       c.Data.Index,
		Definitions: c.Data.Definitions,
	}
}

// SuggestOptions converts the [suggest] section.
func (c *Config) SuggestOptions() suggest.Options {
	s := c.Suggest
	return suggest.Options{
		TopHits:       s.TopHits,
		NgramHits:     s.NgramHits,
		ScoreCutoff:   s.ScoreCutoff,
		MaxTextAnchor: s.MaxTextAnchor,
		MaxNgrams:     s.MaxNgrams,
		ExpandLimit:   s.ExpandLimit,
		MaxCodes:      s.MaxCodes,
		ExactBonus:    s.ExactBonus,
		ApproachBonus: s.ApproachBonus,
		Workers:       s.Workers,
	}
}

// Scorer resolves the configured index scorer, falling back to token set.
func (c *Config) Scorer() index.Scorer {
	s, err := index.ScorerByName(c.Index.Scorer)
	if err != nil {
		log.Warnf("%v, using %s", err, index.ScorerTokenSet)
		return index.TokenSetScorer{}
	}
	return s
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/pcserve/pcserve.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string, resolver *utils.PathResolver) (*Config, string) {
	if customConfigPath != "" {
		if utils.FileExists(customConfigPath) {
			config, err := LoadConfig(customConfigPath)
			if err == nil {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath
			}
			log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
		} else {
			log.Warnf("Custom config file not found at %s. Trying default path...", customConfigPath)
		}
	}
	if resolver == nil {
		return DefaultConfig(), ""
	}

	defaultPath := resolver.GetConfigPath(FileName)
	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), ""
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}
	return LoadConfig(configPath)
}

// LoadConfig loads from a TOML file. A file that fails strict decoding is
// recovered section by section.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		return tryPartialParse(configPath)
	}
	return config, nil
}

func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if section, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(section, &config.Server)
	}
	if section, ok := utils.ExtractSection(tempConfig, "data"); ok {
		extractDataConfig(section, &config.Data)
	}
	if section, ok := utils.ExtractSection(tempConfig, "index"); ok {
		extractIndexConfig(section, &config.Index)
	}
	if section, ok := utils.ExtractSection(tempConfig, "suggest"); ok {
		extractSuggestConfig(section, &config.Suggest)
	}
	if section, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		extractCliConfig(section, &config.CLI)
	}
	return config, nil
}

func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractInt64(data, "max_limit"); ok {
		server.MaxLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "max_text"); ok {
		server.MaxText = val
	}
}

func extractDataConfig(data map[string]any, d *DataConfig) {
	if val, ok := utils.ExtractString(data, "dir"); ok {
		d.Dir = val
	}
	if val, ok := utils.ExtractString(data, "tables"); ok {
		d.Tables = val
	}
	if val, ok := utils.ExtractString(data, "index"); ok {
		d.Index = val
	}
	if val, ok := utils.ExtractString(data, "definitions"); ok {
		d.Definitions = val
	}
	if val, ok := utils.ExtractBool(data, "watch"); ok {
		d.Watch = val
	}
	if val, ok := utils.ExtractInt64(data, "cache_size"); ok {
		d.CacheSize = val
	}
}

func extractIndexConfig(data map[string]any, ix *IndexConfig) {
	if val, ok := utils.ExtractInt64(data, "search_limit"); ok {
		ix.SearchLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "score_cutoff"); ok {
		ix.ScoreCutoff = val
	}
	if val, ok := utils.ExtractString(data, "scorer"); ok {
		ix.Scorer = val
	}
}

func extractSuggestConfig(data map[string]any, s *SuggestConfig) {
	ints := map[string]*int{
		"top_hits":        &s.TopHits,
		"ngram_hits":      &s.NgramHits,
		"score_cutoff":    &s.ScoreCutoff,
		"max_text_anchor": &s.MaxTextAnchor,
		"max_ngrams":      &s.MaxNgrams,
		"expand_limit":    &s.ExpandLimit,
		"max_codes":       &s.MaxCodes,
		"workers":         &s.Workers,
	}
	for key, dst := range ints {
		if val, ok := utils.ExtractInt64(data, key); ok {
			*dst = val
		}
	}
	if val, ok := utils.ExtractFloat(data, "exact_bonus"); ok {
		s.ExactBonus = val
	}
	if val, ok := utils.ExtractFloat(data, "approach_bonus"); ok {
		s.ApproachBonus = val
	}
}

func extractCliConfig(data map[string]any, cli *CliConfig) {
	if val, ok := utils.ExtractInt64(data, "default_limit"); ok {
		cli.DefaultLimit = val
	}
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}
