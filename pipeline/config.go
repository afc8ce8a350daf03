package pipeline

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/merge"
)

// Collision decides what happens when two rows yield the same artifact name.
type Collision string

const (
	// CollisionSuffix appends "_row<N>" to every later duplicate.
	CollisionSuffix Collision = "suffix"
	// CollisionOverwrite keeps only the last row's artifact.
	CollisionOverwrite Collision = "overwrite"
)

// Config configures an Orchestrator.
type Config struct {
	// NamingField is the placeholder whose formatted value names each
	// artifact. Empty = artifacts are named "row-<N>".
	NamingField string `yaml:"naming_field" json:"naming_field"`

	// Format is the artifact format. Default: pdf.
	Format convert.Format `yaml:"format" json:"format"`

	// Workers bounds parallel rendering. Default: GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`

	// ConvertTimeout bounds the conversion of one document. Default: 2m.
	ConvertTimeout time.Duration `yaml:"-" json:"-"`

	// Collisions is the artifact name collision policy. Default: suffix.
	Collisions Collision `yaml:"collisions" json:"collisions"`

	// Policy drives cell formatting.
	Policy merge.Policy `yaml:"-" json:"-"`

	// TempDir holds rendered documents until conversion. Default: os.TempDir().
	TempDir string `yaml:"-" json:"-"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	if c.Format == "" {
		c.Format = convert.PDF
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = 2 * time.Minute
	}
	if c.Collisions == "" {
		c.Collisions = CollisionSuffix
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
