package buffer

import (
	"errors"
	"testing"

	oscilla "github.com/oscilla-xyz/go-oscilla"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{-1, 0, 1} {
		if _, err := New(c); !errors.Is(err, oscilla.ErrInvalidConfig) {
			t.Errorf("New(%d) error = %v, want ErrInvalidConfig", c, err)
		}
	}
}

func TestAddFixesDimension(t *testing.T) {
	b, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Add([]float64{1, 2, 3}, 0.0); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if b.Dim() != 3 {
		t.Errorf("Dim = %d, want 3", b.Dim())
	}

	// Wrong dimension fails and leaves contents unchanged.
	err = b.Add([]float64{1, 2}, 0.1)
	if !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("mismatched Add error = %v, want ErrDimensionMismatch", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len after failed Add = %d, want 1", b.Len())
	}
	snap, ok := b.Last()
	if !ok || snap.Values[0] != 1 || snap.Values[2] != 3 {
		t.Error("buffer contents changed by failed Add")
	}
}

func TestRingEviction(t *testing.T) {
	b, _ := New(3)
	for i := 0; i < 5; i++ {
		if err := b.Add([]float64{float64(i)}, float64(i)); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}

	// Oldest two evicted; remaining are 2, 3, 4 in order.
	m, times, err := b.Matrix()
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	want := []float64{2, 3, 4}
	for c, w := range want {
		if m[0][c] != w {
			t.Errorf("column %d = %f, want %f", c, m[0][c], w)
		}
		if times[c] != w {
			t.Errorf("time %d = %f, want %f", c, times[c], w)
		}
	}
}

func TestAddLabeledSchema(t *testing.T) {
	b, _ := New(8)
	if err := b.AddLabeled(map[string]float64{"n1": 1.0, "n0": 0.5}, 0); err != nil {
		t.Fatalf("AddLabeled: %v", err)
	}

	// Labels established in sorted order.
	labels := b.Labels()
	if len(labels) != 2 || labels[0] != "n0" || labels[1] != "n1" {
		t.Errorf("Labels = %v, want [n0 n1]", labels)
	}

	snap, _ := b.Last()
	if snap.Values[0] != 0.5 || snap.Values[1] != 1.0 {
		t.Errorf("vectorized snapshot = %v, want [0.5 1]", snap.Values)
	}

	// Unknown label is rejected.
	err := b.AddLabeled(map[string]float64{"n0": 1, "n2": 2}, 0.1)
	if !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("unknown label error = %v, want ErrDimensionMismatch", err)
	}

	// Missing label is rejected.
	err = b.AddLabeled(map[string]float64{"n0": 1}, 0.2)
	if !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("missing label error = %v, want ErrDimensionMismatch", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len after rejected adds = %d, want 1", b.Len())
	}
}

func TestSetLabels(t *testing.T) {
	b, _ := New(4)
	if err := b.SetLabels([]string{"x", "y"}); err != nil {
		t.Fatalf("SetLabels: %v", err)
	}
	if b.Dim() != 2 {
		t.Errorf("Dim = %d, want 2", b.Dim())
	}

	if err := b.SetLabels([]string{"z"}); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("second SetLabels error = %v, want ErrInvalidConfig", err)
	}

	b2, _ := New(4)
	if err := b2.SetLabels([]string{"a", "a"}); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("duplicate label error = %v, want ErrInvalidConfig", err)
	}
}

func TestMatrixEmpty(t *testing.T) {
	b, _ := New(4)
	if _, _, err := b.Matrix(); !errors.Is(err, oscilla.ErrInsufficientData) {
		t.Errorf("Matrix on empty error = %v, want ErrInsufficientData", err)
	}
}

func TestPair(t *testing.T) {
	b, _ := New(10)
	for i := 0; i < 5; i++ {
		b.Add([]float64{float64(i), float64(10 * i)}, float64(i))
	}

	x, y, err := b.Pair(1)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if len(x[0]) != 4 || len(y[0]) != 4 {
		t.Fatalf("Pair columns = %d, %d, want 4, 4", len(x[0]), len(y[0]))
	}
	// Y is X shifted forward one column.
	for c := 0; c < 4; c++ {
		if x[0][c] != float64(c) {
			t.Errorf("X[0][%d] = %f, want %d", c, x[0][c], c)
		}
		if y[0][c] != float64(c+1) {
			t.Errorf("Y[0][%d] = %f, want %d", c, y[0][c], c+1)
		}
		if y[1][c] != float64(10*(c+1)) {
			t.Errorf("Y[1][%d] = %f, want %d", c, y[1][c], 10*(c+1))
		}
	}
}

func TestPairInsufficientData(t *testing.T) {
	b, _ := New(10)
	b.Add([]float64{1}, 0)
	b.Add([]float64{2}, 1)

	// count == shift+1 is not enough.
	if _, _, err := b.Pair(1); !errors.Is(err, oscilla.ErrInsufficientData) {
		t.Errorf("Pair error = %v, want ErrInsufficientData", err)
	}

	if _, _, err := b.Pair(0); !errors.Is(err, oscilla.ErrInvalidConfig) {
		t.Errorf("Pair(0) error = %v, want ErrInvalidConfig", err)
	}
}

func TestPairAfterWrap(t *testing.T) {
	b, _ := New(4)
	for i := 0; i < 7; i++ {
		b.Add([]float64{float64(i)}, float64(i))
	}

	// Buffer holds 3, 4, 5, 6.
	x, y, err := b.Pair(1)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	wantX := []float64{3, 4, 5}
	wantY := []float64{4, 5, 6}
	for c := range wantX {
		if x[0][c] != wantX[c] || y[0][c] != wantY[c] {
			t.Errorf("column %d = (%f, %f), want (%f, %f)",
				c, x[0][c], y[0][c], wantX[c], wantY[c])
		}
	}
}

func TestTimeSpan(t *testing.T) {
	b, _ := New(3)
	if _, _, ok := b.TimeSpan(); ok {
		t.Error("TimeSpan on empty buffer should report not ok")
	}
	for i := 0; i < 5; i++ {
		b.Add([]float64{0}, 0.5*float64(i))
	}
	first, last, ok := b.TimeSpan()
	if !ok {
		t.Fatal("TimeSpan not ok")
	}
	// Oldest surviving snapshot is i=2.
	if first != 1.0 || last != 2.0 {
		t.Errorf("TimeSpan = (%f, %f), want (1.0, 2.0)", first, last)
	}
}

func TestCloneIndependence(t *testing.T) {
	b, _ := New(4)
	b.AddLabeled(map[string]float64{"a": 1, "b": 2}, 0)

	clone := b.Clone()
	b.AddLabeled(map[string]float64{"a": 3, "b": 4}, 1)

	if clone.Len() != 1 {
		t.Errorf("clone Len = %d, want 1", clone.Len())
	}
	snap, _ := clone.Last()
	if snap.Values[0] != 1 || snap.Values[1] != 2 {
		t.Error("clone shares storage with original")
	}
	if clone.Labels()[0] != "a" {
		t.Errorf("clone labels = %v", clone.Labels())
	}
}

func TestClearKeepsSchema(t *testing.T) {
	b, _ := New(4)
	b.Add([]float64{1, 2}, 0)
	b.Clear()

	if b.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", b.Len())
	}
	if b.Dim() != 2 {
		t.Errorf("Dim after Clear = %d, want 2", b.Dim())
	}
	if err := b.Add([]float64{9}, 1); !errors.Is(err, oscilla.ErrDimensionMismatch) {
		t.Errorf("Add wrong dim after Clear = %v, want ErrDimensionMismatch", err)
	}
}
