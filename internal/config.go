package internal

import (
	"errors"
	"log/slog"
	"path/filepath"
	"runtime"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/vaultlens/internal/exclude"
)

// Validation errors name fields by the YAML keys written in the config file.
func init() {
	validation.ErrorTag = "yaml"
}

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Index    IndexConfig       `yaml:"index"`
	Diagnose DiagnoseConfig    `yaml:"diagnose"`
	Search   SearchConfig      `yaml:"search"`
	Graph    GraphConfig       `yaml:"graph"`
}

// Validate validates the configuration and fills paths derived from the
// vault location.
func (c *Config) Validate() error {
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = filepath.Join(c.Vault.Path, ".vaultlens", "index.db")
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
		return err
	}
	if err := c.Diagnose.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	return c.Graph.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogPath, when set, receives a copy of every log line.
	LogPath string `yaml:"log_path"`
}

// VaultConfig holds the path to the vault and the patterns the walk skips.
type VaultConfig struct {
	Path    string   `yaml:"path"`
	Exclude []string `yaml:"exclude"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Exclude, validation.By(validPatterns)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// IndexConfig tunes the indexer.
type IndexConfig struct {
	Workers       int         `yaml:"workers"`
	BatchSize     int         `yaml:"batch_size"`
	PruneMissing  bool        `yaml:"prune_missing"`
	CaseSensitive bool        `yaml:"case_sensitive"`
	Chunk         ChunkConfig `yaml:"chunk"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	return c.Chunk.Validate()
}

// ChunkConfig sizes the search chunks, in characters.
type ChunkConfig struct {
	Window  int `yaml:"window"`
	Overlap int `yaml:"overlap"`
}

// Validate validates the chunk configuration.
func (c *ChunkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Window, validation.Required, validation.Min(1)),
		validation.Field(&c.Overlap, validation.Min(0), validation.Max(c.Window-1).Error("must be less than window")),
	)
}

// DiagnoseConfig holds the orphan and dead-end defaults.
type DiagnoseConfig struct {
	// Exclude lists patterns of notes dropped from orphan and dead-end
	// results when exclusions are applied.
	Exclude       []string `yaml:"exclude"`
	IgnoreEmbeds  bool     `yaml:"ignore_embeds"`
	ApplyExcludes bool     `yaml:"apply_excludes"`
}

// Validate validates the diagnose configuration.
func (c *DiagnoseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Exclude, validation.By(validPatterns)),
	)
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1)),
	)
}

// GraphConfig holds local graph limits.
type GraphConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// Validate validates the graph configuration.
func (c *GraphConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(1)),
	)
}

func validPatterns(value any) error {
	patterns, ok := value.([]string)
	if !ok {
		return errors.New("must be a list of patterns")
	}
	_, err := exclude.New(patterns)
	return err
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Vault: VaultConfig{
			Exclude: append(append([]string{}, exclude.DefaultPatterns...), ".vaultlens/"),
		},
		Index: IndexConfig{
			Workers:      runtime.GOMAXPROCS(0),
			BatchSize:    200,
			PruneMissing: true,
			Chunk: ChunkConfig{
				Window:  1000,
				Overlap: 200,
			},
		},
		Search: SearchConfig{
			DefaultLimit: 20,
		},
		Graph: GraphConfig{
			MaxDepth: 3,
		},
	}
}

// DefaultConfigTemplate is written on first run when no config file exists.
const DefaultConfigTemplate = `# vaultlens configuration
# Generated on first run - modify as needed.

app:
  log_level: info
  # log_path: ${HOME}/.local/state/vaultlens/vaultlens.log

vault:
  # Required: path to your vault. Environment variables are expanded.
  path: ${VAULTLENS_VAULT}
  # exclude: [".obsidian/", ".git/", ".trash/", ".vaultlens/"]

sqlite:
  # Defaults to <vault>/.vaultlens/index.db
  # path: ${HOME}/.local/share/vaultlens/index.db

index:
  # workers: 8
  batch_size: 200
  prune_missing: true
  case_sensitive: false
  chunk:
    window: 1000
    overlap: 200

diagnose:
  # exclude: ["templates/", "daily/**"]
  ignore_embeds: false
  apply_excludes: false

search:
  default_limit: 20

graph:
  max_depth: 3
`
