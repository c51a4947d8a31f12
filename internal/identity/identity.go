// Package identity provides the P2P identities stored in library configs and
// the peer ids derived from them.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/ed25519"
)

// Size is the length in bytes of a serialised identity.
const Size = ed25519.SeedSize

// ErrInvalidIdentity is returned for byte strings that are not an identity.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is an ed25519 key pair. Only the 32-byte seed is persisted.
type Identity struct {
	priv ed25519.PrivateKey
}

// New returns a random identity.
func New() (*Identity, error) {
	return newFrom(rand.Reader)
}

func newFrom(r io.Reader) (*Identity, error) {
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &Identity{priv: priv}, nil
}

// FromBytes restores an identity from its serialised seed.
func FromBytes(b []byte) (*Identity, error) {
	if len(b) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidIdentity, len(b), Size)
	}
	return &Identity{priv: ed25519.NewKeyFromSeed(b)}, nil
}

// Bytes returns the serialised seed.
func (i *Identity) Bytes() []byte {
	return append([]byte(nil), i.priv.Seed()...)
}

// PublicKey returns the public half of the key pair.
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.priv.Public().(ed25519.PublicKey)
}

// PeerID returns the peer id advertised for this identity.
func (i *Identity) PeerID() PeerID {
	return PeerIDFromPublicKey(i.PublicKey())
}

// PeerID is the base58 encoding of an ed25519 public key.
type PeerID string

// PeerIDFromPublicKey encodes pub as a peer id.
func PeerIDFromPublicKey(pub ed25519.PublicKey) PeerID {
	return PeerID(base58.Encode(pub))
}

// ParsePeerID validates s as a peer id.
func ParsePeerID(s string) (PeerID, error) {
	raw := base58.Decode(strings.TrimSpace(s))
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid peer id %q: decodes to %d bytes", s, len(raw))
	}
	return PeerID(base58.Encode(raw)), nil
}

func (p PeerID) String() string {
	return string(p)
}

// Supplier creates fresh identities for documents that need one.
type Supplier interface {
	NewIdentity() ([]byte, error)
}

// Generator is the default Supplier. Rand defaults to crypto/rand.
type Generator struct {
	Rand io.Reader
}

// NewIdentity returns the serialised seed of a new random identity.
func (g Generator) NewIdentity() ([]byte, error) {
	id, err := newFrom(g.Rand)
	if err != nil {
		return nil, err
	}
	return id.Bytes(), nil
}

// LoadOrCreate reads the node identity stored at path, creating and
// persisting a new one when the file does not exist. The file holds the
// base58-encoded seed.
func LoadOrCreate(path string) (*Identity, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- identity path comes from configuration
	data, err := os.ReadFile(clean)
	if err == nil {
		id, err := FromBytes(base58.Decode(strings.TrimSpace(string(data))))
		if err != nil {
			return nil, fmt.Errorf("node identity %s: %w", clean, err)
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read node identity: %w", err)
	}

	id, err := New()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(clean); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create identity directory: %w", err)
		}
	}
	if err := os.WriteFile(clean, []byte(base58.Encode(id.Bytes())+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write node identity: %w", err)
	}
	return id, nil
}
