package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/iammatthi/spacedrive"
	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/constants"
	"gopkg.in/yaml.v3"
)

type NodeConfig struct {
	// ID of this node. When empty it is derived from the node identity.
	ID           string `mapstructure:"id" yaml:"id"`
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file"`
}

type BackfillConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

type MigrationConfig struct {
	LockDocuments  *bool `mapstructure:"lock_documents" yaml:"lock_documents"`
	DisableHistory bool  `mapstructure:"disable_history" yaml:"disable_history"`
	// PerLibraryDatabase migrates each library against the sqlite database
	// <library id>.db beside its config instead of the configured store.
	PerLibraryDatabase bool `mapstructure:"per_library_database" yaml:"per_library_database"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type MetricsConfig struct {
	// Textfile is written in the Prometheus text format after each command.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

type ConfigDoc struct {
	LibrariesDir string                 `mapstructure:"libraries_dir" yaml:"libraries_dir"`
	Node         NodeConfig             `mapstructure:"node" yaml:"node"`
	Store        spacedrive.StoreConfig `mapstructure:"store" yaml:"store"`
	Backfill     BackfillConfig         `mapstructure:"backfill" yaml:"backfill"`
	Migration    MigrationConfig        `mapstructure:"migration" yaml:"migration"`
	Logging      LoggingConfig          `mapstructure:"logging" yaml:"logging"`
	Metrics      MetricsConfig          `mapstructure:"metrics" yaml:"metrics"`

	// dir of the loaded config file; relative paths resolve against it
	baseDir string
}

// Load reads the yaml config at path. Durations such as store.retry.initial_delay
// accept Go duration strings ("250ms", "2s").
func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user/CI; cleaned and validated above
	raw, err := os.ReadFile(clean)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse config %s: %w", clean, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc()),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode config %s: %w", clean, err)
	}
	c.baseDir = filepath.Dir(clean)
	return nil
}

func (c *ConfigDoc) resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// LibrariesPath returns the configured libraries directory, defaulting to
// "libraries" next to the config file.
func (c *ConfigDoc) LibrariesPath() string {
	if dir := c.resolve(c.LibrariesDir); dir != "" {
		return dir
	}
	return c.resolve("libraries")
}

// IdentityPath returns the node identity file, defaulting to "node.key" next
// to the config file.
func (c *ConfigDoc) IdentityPath() string {
	if p := c.resolve(c.Node.IdentityFile); p != "" {
		return p
	}
	return c.resolve("node.key")
}

// NodeID returns the configured node id, or one derived from the identity's
// public key so that it is stable across runs.
func (c *ConfigDoc) NodeID(id *spacedrive.Identity) (uuid.UUID, error) {
	if s := strings.TrimSpace(c.Node.ID); s != "" {
		nodeID, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid node.id %q: %w", s, err)
		}
		return nodeID, nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, id.PublicKey()), nil
}

// PageSize returns the backfill page size.
func (c *ConfigDoc) PageSize() (int, error) {
	switch n := c.Backfill.PageSize; {
	case n < 0:
		return 0, fmt.Errorf("invalid backfill.page_size: %d", n)
	case n == 0:
		return constants.DefaultBackfillPageSize, nil
	default:
		return n, nil
	}
}

// LockDocuments reports whether configs are locked while they migrate (default true).
func (c *ConfigDoc) LockDocuments() bool {
	if c.Migration.LockDocuments == nil {
		return true
	}
	return *c.Migration.LockDocuments
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() error {
	levelStr := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	level, ok := common.ParseLogLevel(levelStr)
	if !ok {
		return fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}

	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	useColor := false
	if c.Logging.Color != nil {
		useColor = *c.Logging.Color
	} else if format == "color" || format == "colour" {
		useColor = true
	}

	var logger *spacedrive.Logger
	switch format {
	case "json":
		logger = spacedrive.NewJSONLogger(level)
	case "color", "colour":
		logger = spacedrive.NewColorLogger(level)
	case "text", "":
		if useColor {
			logger = spacedrive.NewColorLogger(level)
		} else {
			logger = spacedrive.NewLogger(level)
		}
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Logging.Format)
	}

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	logger.EnableMasking(maskingEnabled)
	spacedrive.SetDefaultLogger(logger)
	spacedrive.EnableMasking(maskingEnabled)

	if levelStr == "" {
		levelStr = "info"
	}
	logger.Debug("logging configured",
		"level", levelStr,
		"format", format,
		"color", useColor,
		"mask_sensitive", maskingEnabled)
	return nil
}
