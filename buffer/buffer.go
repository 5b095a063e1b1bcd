// Package buffer implements a fixed-capacity ring of labeled state snapshots.
// It is the streaming history behind spectral analysis: the network writes one
// snapshot per tick, the estimator reads snapshot matrices and time-shifted
// pairs back out. The buffer owns its storage exclusively; values are copied
// on the way in and on the way out.
package buffer

import (
	"fmt"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// Snapshot is one observation: a state vector and its timestamp.
type Snapshot struct {
	Values []float64
	Time   float64
}

// Buffer is a bounded FIFO of snapshots with a dimension fixed at first use.
// Not safe for concurrent use; callers serialize access.
type Buffer struct {
	capacity int
	dim      int
	labels   []string
	index    map[string]int

	data  [][]float64
	times []float64
	next  int
	count int
}

// New creates an empty buffer with the given capacity. The state dimension is
// established by the first Add or AddLabeled, or by SetLabels.
func New(capacity int) (*Buffer, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("buffer: capacity must be at least 2, got %d: %w",
			capacity, oscilla.ErrInvalidConfig)
	}
	return &Buffer{
		capacity: capacity,
		data:     make([][]float64, capacity),
		times:    make([]float64, capacity),
	}, nil
}

// SetLabels declares the state schema before any data arrives. Labels are
// stored in the given order. Fails once the buffer holds data or already has
// a schema.
func (b *Buffer) SetLabels(labels []string) error {
	if b.count > 0 || b.dim > 0 {
		return fmt.Errorf("buffer: schema already established: %w", oscilla.ErrInvalidConfig)
	}
	if len(labels) == 0 {
		return fmt.Errorf("buffer: empty label set: %w", oscilla.ErrInvalidConfig)
	}
	b.labels = make([]string, len(labels))
	copy(b.labels, labels)
	b.index = make(map[string]int, len(labels))
	for i, l := range b.labels {
		if _, dup := b.index[l]; dup {
			b.labels = nil
			b.index = nil
			return fmt.Errorf("buffer: duplicate label %q: %w", l, oscilla.ErrInvalidConfig)
		}
		b.index[l] = i
	}
	b.dim = len(labels)
	return nil
}

// Add appends a snapshot. The first call fixes the dimension; later calls
// with a different length fail with ErrDimensionMismatch and leave the buffer
// unchanged. At capacity, the oldest snapshot is evicted.
func (b *Buffer) Add(values []float64, t float64) error {
	if len(values) == 0 {
		return fmt.Errorf("buffer: empty snapshot: %w", oscilla.ErrDimensionMismatch)
	}
	if b.dim == 0 {
		b.dim = len(values)
	} else if len(values) != b.dim {
		return fmt.Errorf("buffer: snapshot dimension %d does not match established %d: %w",
			len(values), b.dim, oscilla.ErrDimensionMismatch)
	}

	slot := make([]float64, b.dim)
	copy(slot, values)
	b.data[b.next] = slot
	b.times[b.next] = t
	b.next = (b.next + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
	return nil
}

// AddLabeled appends a snapshot given as a label→value map. The first call
// establishes the schema with labels in sorted order; later calls must
// present exactly the known labels. Missing or unknown labels fail with
// ErrDimensionMismatch; new ids require an explicit new buffer rather than a
// silent reindex.
func (b *Buffer) AddLabeled(state map[string]float64, t float64) error {
	if len(state) == 0 {
		return fmt.Errorf("buffer: empty snapshot: %w", oscilla.ErrDimensionMismatch)
	}
	if b.labels == nil {
		if b.dim > 0 {
			return fmt.Errorf("buffer: unlabeled schema already established: %w",
				oscilla.ErrDimensionMismatch)
		}
		if err := b.SetLabels(stateutil.SortedKeys(state)); err != nil {
			return err
		}
	}
	if len(state) != b.dim {
		return fmt.Errorf("buffer: snapshot has %d labels, schema has %d: %w",
			len(state), b.dim, oscilla.ErrDimensionMismatch)
	}
	values := make([]float64, b.dim)
	for l, v := range state {
		i, ok := b.index[l]
		if !ok {
			return fmt.Errorf("buffer: unknown label %q: %w", l, oscilla.ErrDimensionMismatch)
		}
		values[i] = v
	}
	return b.Add(values, t)
}

// at returns the storage slot of the i-th oldest snapshot.
func (b *Buffer) at(i int) int {
	if b.count < b.capacity {
		return i
	}
	return (b.next + i) % b.capacity
}

// Matrix returns the buffered history as a (dim × count) matrix, one row per
// state coordinate, columns ordered oldest to newest, along with the parallel
// timestamp slice. Fails with ErrInsufficientData when empty.
func (b *Buffer) Matrix() ([][]float64, []float64, error) {
	if b.count == 0 {
		return nil, nil, fmt.Errorf("buffer: empty: %w", oscilla.ErrInsufficientData)
	}
	m := make([][]float64, b.dim)
	for r := range m {
		m[r] = make([]float64, b.count)
	}
	times := make([]float64, b.count)
	for c := 0; c < b.count; c++ {
		slot := b.at(c)
		for r := 0; r < b.dim; r++ {
			m[r][c] = b.data[slot][r]
		}
		times[c] = b.times[slot]
	}
	return m, times, nil
}

// Pair returns time-shifted snapshot matrices (X, Y) where column j of Y is
// the snapshot shift steps after column j of X. Requires count > shift+1,
// else ErrInsufficientData.
func (b *Buffer) Pair(shift int) (x, y [][]float64, err error) {
	if shift < 1 {
		return nil, nil, fmt.Errorf("buffer: shift must be at least 1, got %d: %w",
			shift, oscilla.ErrInvalidConfig)
	}
	if b.count <= shift+1 {
		return nil, nil, fmt.Errorf("buffer: %d snapshots, need more than %d for shift %d: %w",
			b.count, shift+1, shift, oscilla.ErrInsufficientData)
	}
	cols := b.count - shift
	x = make([][]float64, b.dim)
	y = make([][]float64, b.dim)
	for r := 0; r < b.dim; r++ {
		x[r] = make([]float64, cols)
		y[r] = make([]float64, cols)
	}
	for c := 0; c < cols; c++ {
		xs := b.at(c)
		ys := b.at(c + shift)
		for r := 0; r < b.dim; r++ {
			x[r][c] = b.data[xs][r]
			y[r][c] = b.data[ys][r]
		}
	}
	return x, y, nil
}

// At returns the i-th oldest snapshot (0 = oldest). The returned values are
// a copy.
func (b *Buffer) At(i int) (Snapshot, bool) {
	if i < 0 || i >= b.count {
		return Snapshot{}, false
	}
	slot := b.at(i)
	values := make([]float64, b.dim)
	copy(values, b.data[slot])
	return Snapshot{Values: values, Time: b.times[slot]}, true
}

// Last returns the newest snapshot.
func (b *Buffer) Last() (Snapshot, bool) {
	return b.At(b.count - 1)
}

// TimeSpan returns the timestamps of the oldest and newest snapshots.
// Estimators derive the mean sample interval from it.
func (b *Buffer) TimeSpan() (first, last float64, ok bool) {
	if b.count == 0 {
		return 0, 0, false
	}
	return b.times[b.at(0)], b.times[b.at(b.count-1)], true
}

// Len returns the number of buffered snapshots.
func (b *Buffer) Len() int { return b.count }

// Capacity returns the maximum number of snapshots held.
func (b *Buffer) Capacity() int { return b.capacity }

// Dim returns the established state dimension, 0 before first use.
func (b *Buffer) Dim() int { return b.dim }

// Labels returns a copy of the schema labels, nil for unlabeled buffers.
func (b *Buffer) Labels() []string {
	if b.labels == nil {
		return nil
	}
	out := make([]string, len(b.labels))
	copy(out, b.labels)
	return out
}

// Clear drops all snapshots but keeps the established schema.
func (b *Buffer) Clear() {
	b.next = 0
	b.count = 0
}

// Clone returns an independent deep copy. Live monitors hand clones to
// analysis workers so the original can keep receiving snapshots.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{
		capacity: b.capacity,
		dim:      b.dim,
		next:     b.next,
		count:    b.count,
		data:     make([][]float64, b.capacity),
		times:    make([]float64, b.capacity),
	}
	copy(out.times, b.times)
	for i, row := range b.data {
		if row != nil {
			slot := make([]float64, len(row))
			copy(slot, row)
			out.data[i] = slot
		}
	}
	if b.labels != nil {
		out.labels = make([]string, len(b.labels))
		copy(out.labels, b.labels)
		out.index = make(map[string]int, len(b.index))
		for k, v := range b.index {
			out.index[k] = v
		}
	}
	return out
}
