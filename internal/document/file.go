package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound is returned by Load when no document exists at the path.
	ErrNotFound = errors.New("document not found")
	// ErrCorrupt is returned when a document exists but is not a JSON object.
	ErrCorrupt = errors.New("document is corrupt")
)

// Store loads and persists documents.
type Store interface {
	Load(path string) (Document, error)
	Save(path string, doc Document) error
}

// FileStore keeps one document per JSON file.
type FileStore struct {
	// Perm is the mode of newly written files. Zero means 0600.
	Perm fs.FileMode
}

var _ Store = FileStore{}

// PeekVersion reads the "version" field from raw JSON without decoding the
// whole body. It reports false when the field is absent or not an integer.
func PeekVersion(raw []byte) (int, bool) {
	v := gjson.GetBytes(raw, VersionKey)
	if !v.Exists() || v.Type != gjson.Number {
		return 0, false
	}
	if float64(v.Int()) != v.Num {
		return 0, false
	}
	return int(v.Int()), true
}

// Load reads and decodes the document at path.
func (s FileStore) Load(path string) (Document, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- document paths come from the configured libraries directory
	raw, err := os.ReadFile(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	return Decode(raw)
}

// Decode parses a JSON object into a Document. Numbers keep their exact
// textual form as json.Number.
func Decode(raw []byte) (Document, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		if v, ok := PeekVersion(raw); ok {
			return nil, fmt.Errorf("%w: claims version %d but body is not a JSON object", ErrCorrupt, v)
		}
		return nil, fmt.Errorf("%w: not a JSON object", ErrCorrupt)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return doc, nil
}

// Save writes doc to path atomically: a temp file in the same directory is
// synced and renamed over the target.
func (s FileStore) Save(path string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	perm := s.Perm
	if perm == 0 {
		perm = 0o600
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
