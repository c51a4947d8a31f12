package library

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/iammatthi/spacedrive/internal/backfill"
	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/identity"
	"github.com/iammatthi/spacedrive/internal/migration"
	"github.com/iammatthi/spacedrive/internal/store"
)

// Context carries what library steps need besides the document.
type Context struct {
	NodeID uuid.UUID
	PeerID identity.PeerID
	Store  store.Store

	// Identities defaults to identity.Generator.
	Identities identity.Supplier
	// PageSize bounds backfill pages; zero means the default of 500.
	PageSize int
	Metrics  *migration.Metrics
	Logger   *common.Logger
}

func (c Context) identities() identity.Supplier {
	if c.Identities == nil {
		return identity.Generator{}
	}
	return c.Identities
}

func (c Context) logger() *common.Logger {
	if c.Logger == nil {
		return common.GetLogger().WithComponent("library")
	}
	return c.Logger
}

// DefaultIndexerRules are the built-in rules whose pub ids were fixed in version 1.
var DefaultIndexerRules = []string{
	"No OS protected",
	"No Hidden",
	"No Git",
	"Only Images",
}

// Steps is the library config step table.
var Steps = migration.MustStepTable(CurrentVersion,
	migration.At[Context](0, "initial", migration.NoModification[Context]),
	migration.At[Context](1, "indexer rule pub ids", assignRulePubIDs),
	migration.At[Context](2, "library identity", addIdentity),
	migration.At[Context](3, "node pub id and peer id", assignNodeIDs),
	migration.At[Context](4, "no changes", migration.NoModification[Context]),
	migration.At[Context](5, "file path sizes as bytes", backfillSizeBytes),
)

// RulePubID returns the pub id of the i-th default rule: the 16 big-endian
// bytes of the integer i.
func RulePubID(i int) []byte {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], uint64(i))
	return id[:]
}

func assignRulePubIDs(ctx context.Context, _ document.Document, c Context) error {
	ops := make([]sq.Sqlizer, 0, len(DefaultIndexerRules))
	for i, name := range DefaultIndexerRules {
		ops = append(ops, c.Store.Builder().
			Update("indexer_rule").
			Set("pub_id", RulePubID(i)).
			Where(sq.Eq{"name": name}))
	}
	return c.Store.Batch(ctx, ops...)
}

func addIdentity(_ context.Context, doc document.Document, c Context) error {
	// A retried run keeps the identity it already generated.
	if existing, ok := doc.Bytes("identity"); ok && len(existing) == identity.Size {
		return nil
	}
	id, err := c.identities().NewIdentity()
	if err != nil {
		return err
	}
	doc.SetBytes("identity", id)
	return nil
}

func assignNodeIDs(ctx context.Context, doc document.Document, c Context) error {
	n, err := c.Store.Count(ctx, "node", nil)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: expected exactly one node in the library, found %d", migration.ErrInvariantViolated, n)
	}
	_, err = c.Store.Update(ctx, c.Store.Builder().
		Update("node").
		Set("pub_id", c.NodeID[:]).
		Set("node_peer_id", c.PeerID.String()))
	if err != nil {
		return err
	}
	doc.Set("node_id", c.NodeID.String())
	return nil
}

const sizeBackfillName = "file_path.size_in_bytes"

type filePathSize struct {
	ID          int64   `db:"id"`
	SizeInBytes *string `db:"size_in_bytes"`
}

func backfillSizeBytes(ctx context.Context, _ document.Document, c Context) error {
	pending := sq.NotEq{"size_in_bytes": nil}
	update := func(id int64, size []byte) sq.Sqlizer {
		var value any
		if size != nil {
			value = size
		}
		return c.Store.Builder().
			Update("file_path").
			Set("size_in_bytes_bytes", value).
			Set("size_in_bytes", nil).
			Where(sq.Eq{"id": id})
	}

	stats, err := backfill.Run(ctx, backfill.Spec[filePathSize, sq.Sqlizer]{
		Name:     sizeBackfillName,
		PageSize: c.PageSize,
		Count: func(ctx context.Context) (int, error) {
			return c.Store.Count(ctx, "file_path", pending)
		},
		Fetch: func(ctx context.Context, limit int) ([]filePathSize, error) {
			var rows []filePathSize
			q := c.Store.Builder().
				Select("id", "size_in_bytes").
				From("file_path").
				Where(pending).
				OrderBy("id").
				Limit(uint64(limit))
			if err := c.Store.Select(ctx, &rows, q); err != nil {
				return nil, err
			}
			return rows, nil
		},
		Convert: func(row filePathSize) (sq.Sqlizer, error) {
			b, err := SizeToBytes(row.SizeInBytes)
			if err != nil {
				return nil, err
			}
			return update(row.ID, b), nil
		},
		Clear: func(row filePathSize) sq.Sqlizer {
			return update(row.ID, nil)
		},
		Apply: func(ctx context.Context, ops []sq.Sqlizer) error {
			return c.Store.Batch(ctx, ops...)
		},
		RowID:  func(row filePathSize) any { return row.ID },
		Logger: c.logger(),
	})
	if err != nil {
		return err
	}
	c.Metrics.ObserveBackfill(sizeBackfillName, stats.Converted, stats.Failed)
	return nil
}

// SizeToBytes converts a decimal size string to its 8-byte big-endian form.
func SizeToBytes(size *string) ([]byte, error) {
	if size == nil {
		return nil, fmt.Errorf("missing field file_path.size_in_bytes")
	}
	// A single leading '+' is accepted as an unsigned decimal sign.
	n, err := strconv.ParseUint(strings.TrimPrefix(*size, "+"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid size %q: %w", *size, err)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b, nil
}
