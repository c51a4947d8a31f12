package backfill

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"strconv"
	"testing"

	"github.com/iammatthi/spacedrive/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id   int
	size string
}

type mutation struct {
	id    int
	bytes []byte
}

// table is an in-memory file_path stand-in: a row matches while size is set.
type table struct {
	pending map[int]string
	bytes   map[int][]byte
	fetches int
	applies int
}

func newTable(sizes ...string) *table {
	t := &table{pending: map[int]string{}, bytes: map[int][]byte{}}
	for i, s := range sizes {
		t.pending[i+1] = s
	}
	return t
}

func (t *table) spec(pageSize int) Spec[row, mutation] {
	return Spec[row, mutation]{
		Name:     "size_in_bytes",
		PageSize: pageSize,
		Count: func(context.Context) (int, error) {
			return len(t.pending), nil
		},
		Fetch: func(_ context.Context, limit int) ([]row, error) {
			t.fetches++
			ids := make([]int, 0, len(t.pending))
			for id := range t.pending {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			if len(ids) > limit {
				ids = ids[:limit]
			}
			out := make([]row, 0, len(ids))
			for _, id := range ids {
				out = append(out, row{id: id, size: t.pending[id]})
			}
			return out, nil
		},
		Convert: func(r row) (mutation, error) {
			n, err := strconv.ParseUint(r.size, 10, 64)
			if err != nil {
				return mutation{}, err
			}
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, n)
			return mutation{id: r.id, bytes: b}, nil
		},
		Clear: func(r row) mutation {
			return mutation{id: r.id}
		},
		Apply: func(_ context.Context, ms []mutation) error {
			t.applies++
			for _, m := range ms {
				delete(t.pending, m.id)
				if m.bytes != nil {
					t.bytes[m.id] = m.bytes
				}
			}
			return nil
		},
		RowID:  func(r row) any { return r.id },
		Logger: common.NewDiscardLogger(),
	}
}

func TestRun_ConvertsAndClearsFailures(t *testing.T) {
	tbl := newTable("1024", "abc")

	stats, err := Run(context.Background(), tbl.spec(500))
	require.NoError(t, err)

	assert.Equal(t, Stats{Matched: 2, Pages: 1, Converted: 1, Failed: 1}, stats)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 4, 0}, tbl.bytes[1])
	_, has := tbl.bytes[2]
	assert.False(t, has, "failed row must not get a value")
	assert.Empty(t, tbl.pending)
}

func TestRun_PagesAreBounded(t *testing.T) {
	sizes := make([]string, 1201)
	for i := range sizes {
		sizes[i] = strconv.Itoa(i)
	}
	tbl := newTable(sizes...)

	stats, err := Run(context.Background(), tbl.spec(500))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.fetches)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 1201, stats.Converted)
	assert.Empty(t, tbl.pending)
}

func TestRun_ExactMultipleOfPageSize(t *testing.T) {
	tbl := newTable("1", "2", "3", "4")

	stats, err := Run(context.Background(), tbl.spec(2))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.fetches)
	assert.Equal(t, 2, stats.Pages)
}

func TestRun_NoMatchingRows(t *testing.T) {
	tbl := newTable()

	stats, err := Run(context.Background(), tbl.spec(500))
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.fetches)
	assert.Equal(t, Stats{}, stats)
}

func TestRun_DefaultPageSize(t *testing.T) {
	sizes := make([]string, 501)
	for i := range sizes {
		sizes[i] = "1"
	}
	tbl := newTable(sizes...)

	_, err := Run(context.Background(), tbl.spec(0))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.fetches)
}

func TestRun_ApplyFailureAborts(t *testing.T) {
	tbl := newTable("1", "2", "3")
	spec := tbl.spec(1)
	boom := errors.New("disk full")
	spec.Apply = func(context.Context, []mutation) error { return boom }

	_, err := Run(context.Background(), spec)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrBackfillIncomplete)
	assert.Equal(t, 1, tbl.fetches)
	assert.Len(t, tbl.pending, 3)
}

func TestRun_IncompleteWhenRowsStayMatched(t *testing.T) {
	tbl := newTable("x", "y", "z")
	spec := tbl.spec(2)
	// A clear that forgets to leave the predicate.
	spec.Apply = func(context.Context, []mutation) error { return nil }

	_, err := Run(context.Background(), spec)
	require.ErrorIs(t, err, ErrBackfillIncomplete)
	assert.Equal(t, 2, tbl.fetches, "fetches must stay bounded by ceil(R/P)")
}

func TestRun_CountAndFetchErrors(t *testing.T) {
	boom := errors.New("store down")

	tbl := newTable("1")
	spec := tbl.spec(10)
	spec.Count = func(context.Context) (int, error) { return 0, boom }
	_, err := Run(context.Background(), spec)
	require.ErrorIs(t, err, boom)

	spec = tbl.spec(10)
	spec.Fetch = func(context.Context, int) ([]row, error) { return nil, boom }
	_, err = Run(context.Background(), spec)
	require.ErrorIs(t, err, boom)
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tbl := newTable("1")
	_, err := Run(ctx, tbl.spec(10))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tbl.fetches)
}

func TestRun_ValidatesSpec(t *testing.T) {
	tbl := newTable()
	for name, mutate := range map[string]func(*Spec[row, mutation]){
		"count":   func(s *Spec[row, mutation]) { s.Count = nil },
		"fetch":   func(s *Spec[row, mutation]) { s.Fetch = nil },
		"convert": func(s *Spec[row, mutation]) { s.Convert = nil },
		"clear":   func(s *Spec[row, mutation]) { s.Clear = nil },
		"apply":   func(s *Spec[row, mutation]) { s.Apply = nil },
	} {
		t.Run(name, func(t *testing.T) {
			spec := tbl.spec(10)
			mutate(&spec)
			_, err := Run(context.Background(), spec)
			assert.Error(t, err)
		})
	}
}

func TestRowConversionError(t *testing.T) {
	cause := errors.New("invalid syntax")
	err := &RowConversionError{Backfill: "size_in_bytes", RowID: 7, Err: cause}
	assert.Equal(t, "backfill size_in_bytes: row 7: invalid syntax", err.Error())
	assert.ErrorIs(t, err, cause)
}
