// Package library defines the persisted library config document: its typed
// form, the sanitised view handed to clients, and the steps that migrate it.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/iammatthi/spacedrive/internal/constants"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/identity"
	"github.com/iammatthi/spacedrive/internal/migration"
)

// CurrentVersion is the newest library config schema.
const CurrentVersion = 5

// ErrInvalidName is returned for empty or padded library names.
var ErrInvalidName = errors.New("invalid library name")

// Identity is a byte string that serialises as an array of integers.
type Identity []byte

func (b Identity) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, c := range b {
		ints[i] = int(c)
	}
	return json.Marshal(ints)
}

func (b *Identity) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("identity must be an array of bytes: %w", err)
	}
	out := make([]byte, len(ints))
	for i, n := range ints {
		if n < 0 || n > math.MaxUint8 {
			return fmt.Errorf("identity byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// Config is a library config at CurrentVersion. It is stored as a
// "<uuid>.sdlibrary" file.
type Config struct {
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Identity    Identity  `json:"identity"`
	NodeID      uuid.UUID `json:"node_id"`
}

// Sanitised is the config without its private identity.
type Sanitised struct {
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	NodeID      uuid.UUID `json:"node_id"`
}

// Wrapped pairs a sanitised config with its library id.
type Wrapped struct {
	UUID   uuid.UUID `json:"uuid"`
	Config Sanitised `json:"config"`
}

// ValidateName checks a user supplied library name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: name must not start or end with whitespace", ErrInvalidName)
	}
	return nil
}

// New returns a config for a freshly created library.
func New(name string, nodeID uuid.UUID, ids identity.Supplier) (*Config, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = identity.Generator{}
	}
	id, err := ids.NewIdentity()
	if err != nil {
		return nil, err
	}
	return &Config{
		Version:  CurrentVersion,
		Name:     name,
		Identity: id,
		NodeID:   nodeID,
	}, nil
}

// Sanitised drops the identity.
func (c *Config) Sanitised() Sanitised {
	return Sanitised{Name: c.Name, Description: c.Description, NodeID: c.NodeID}
}

// Wrap pairs the sanitised config with the library id.
func (c *Config) Wrap(id uuid.UUID) Wrapped {
	return Wrapped{UUID: id, Config: c.Sanitised()}
}

// ToDocument converts the config to its persisted form.
func (c *Config) ToDocument() (document.Document, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode library config: %w", err)
	}
	return document.Decode(data)
}

// FromDocument decodes a document that is at CurrentVersion.
func FromDocument(doc document.Document) (*Config, error) {
	v, err := doc.Version()
	if err != nil {
		return nil, err
	}
	if v != CurrentVersion {
		return nil, fmt.Errorf("library config is at version %d, want %d", v, CurrentVersion)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode library document: %w", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode library config: %w", err)
	}
	if len(c.Identity) != identity.Size {
		return nil, fmt.Errorf("%w: library identity has %d bytes", identity.ErrInvalidIdentity, len(c.Identity))
	}
	return &c, nil
}

// Load reads and decodes the library config at path. The document must
// already be migrated.
func Load(docs document.Store, path string) (*Config, error) {
	doc, err := docs.Load(path)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc)
}

// Save writes c to path.
func Save(docs document.Store, path string, c *Config) error {
	doc, err := c.ToDocument()
	if err != nil {
		return err
	}
	return docs.Save(path, doc)
}

// Default is the default factory for library configs. A library config
// cannot be synthesised, so it always fails.
func Default(path string) (document.Document, error) {
	return nil, fmt.Errorf("%w: %s", migration.ErrConfigFileMissing, path)
}

// IDFromPath extracts the library id from a "<uuid>.sdlibrary" file name.
func IDFromPath(path string) (uuid.UUID, error) {
	base := filepath.Base(path)
	stem, ok := strings.CutSuffix(base, constants.LibraryConfigExtension)
	if !ok {
		return uuid.Nil, fmt.Errorf("%s is not a %s file", base, constants.LibraryConfigExtension)
	}
	id, err := uuid.Parse(stem)
	if err != nil {
		return uuid.Nil, fmt.Errorf("library file %s: %w", base, err)
	}
	return id, nil
}

// PathFor returns the config path of library id inside dir.
func PathFor(dir string, id uuid.UUID) string {
	return filepath.Join(dir, id.String()+constants.LibraryConfigExtension)
}
