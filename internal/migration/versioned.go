package migration

import (
	"context"
	"fmt"
	"sort"

	"github.com/iammatthi/spacedrive/internal/document"
)

// Step transforms doc and related store rows from version v-1 to v.
type Step[C any] func(ctx context.Context, doc document.Document, c C) error

// NoModification is the step for versions that changed nothing.
func NoModification[C any](context.Context, document.Document, C) error {
	return nil
}

// VersionedStep pairs a step with the version it migrates to.
type VersionedStep[C any] struct {
	Version int
	Name    string
	Run     Step[C]
}

// At builds a VersionedStep.
func At[C any](version int, name string, run Step[C]) VersionedStep[C] {
	return VersionedStep[C]{Version: version, Name: name, Run: run}
}

// StepTable holds exactly one step for every version in [0, current].
type StepTable[C any] struct {
	current int
	steps   []VersionedStep[C]
}

// NewStepTable validates that steps cover 0..current with no gaps or duplicates.
func NewStepTable[C any](current int, steps ...VersionedStep[C]) (*StepTable[C], error) {
	if current < 0 {
		return nil, fmt.Errorf("current version must not be negative, got %d", current)
	}
	if len(steps) != current+1 {
		return nil, fmt.Errorf("step table has %d steps, want %d for versions 0..%d", len(steps), current+1, current)
	}
	sorted := append([]VersionedStep[C](nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i, s := range sorted {
		if s.Version != i {
			return nil, fmt.Errorf("step table is not dense: expected version %d, found %d", i, s.Version)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("step for version %d has no body", s.Version)
		}
	}
	return &StepTable[C]{current: current, steps: sorted}, nil
}

// MustStepTable is like NewStepTable but panics on an invalid table.
func MustStepTable[C any](current int, steps ...VersionedStep[C]) *StepTable[C] {
	t, err := NewStepTable(current, steps...)
	if err != nil {
		panic(err)
	}
	return t
}

// Current returns the newest version the table can reach.
func (t *StepTable[C]) Current() int {
	return t.current
}

// Lookup returns the step migrating to version v.
func (t *StepTable[C]) Lookup(v int) (VersionedStep[C], bool) {
	if t == nil || v < 0 || v >= len(t.steps) {
		return VersionedStep[C]{}, false
	}
	return t.steps[v], true
}

// Plan returns the versions to run for a document stored at from, in
// ascending order.
func (t *StepTable[C]) Plan(from int) []int {
	if from < -1 {
		from = -1
	}
	plan := make([]int, 0)
	for v := from + 1; v <= t.current; v++ {
		plan = append(plan, v)
	}
	return plan
}

// Steps returns the table in version order.
func (t *StepTable[C]) Steps() []VersionedStep[C] {
	return append([]VersionedStep[C](nil), t.steps...)
}
