package control

import (
	"errors"
	"math"
	"testing"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/phase"
)

type recordingPlant struct {
	gain  float64
	calls int
}

func (p *recordingPlant) SetFeedback(g float64) {
	p.gain = g
	p.calls++
}

func TestGainMapping(t *testing.T) {
	c, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := []struct {
		index, want float64
	}{
		{-1, 0.55},
		{0, 0.775},
		{1, 1.0},
		{-2, 0.55},
		{2, 1.0},
	}
	for _, tc := range cases {
		if got := c.GainFor(tc.index); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("GainFor(%g) = %g, want %g", tc.index, got, tc.want)
		}
	}
}

func TestGainStaysInRange(t *testing.T) {
	c, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := -1000; i <= 1000; i++ {
		idx := float64(i) / 1000
		g := c.GainFor(idx)
		if g < 0.55-1e-12 || g > 1.0+1e-12 {
			t.Fatalf("GainFor(%g) = %g outside [0.55, 1.0]", idx, g)
		}
	}
}

func TestUpdateAppliesGain(t *testing.T) {
	c, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	plant := &recordingPlant{}
	res := &koopman.Result{StabilityIndex: 0.5}

	gain, applied := c.Update(plant, res)
	if !applied {
		t.Fatal("expected gain to be applied")
	}
	want := 0.55 + 0.45*0.75
	if math.Abs(gain-want) > 1e-12 {
		t.Errorf("gain %g, want %g", gain, want)
	}
	if plant.calls != 1 || math.Abs(plant.gain-want) > 1e-12 {
		t.Errorf("plant saw gain %g after %d calls", plant.gain, plant.calls)
	}
	if math.Abs(c.Gain()-want) > 1e-12 {
		t.Errorf("held gain %g, want %g", c.Gain(), want)
	}
}

func TestUpdateDrivesNetworkFeedback(t *testing.T) {
	c, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	net := phase.NewNetwork(0.2)
	res := &koopman.Result{StabilityIndex: -1}
	gain, applied := c.Update(net, res)
	if !applied {
		t.Fatal("expected gain to be applied")
	}
	if math.Abs(gain-0.55) > 1e-12 {
		t.Errorf("gain %g, want 0.55", gain)
	}
	if math.Abs(net.Feedback()-0.55) > 1e-12 {
		t.Errorf("network feedback %g, want 0.55", net.Feedback())
	}
}

func TestUpdateHoldsOnUntrustedResults(t *testing.T) {
	c, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	plant := &recordingPlant{gain: -1}

	for _, res := range []*koopman.Result{
		nil,
		{Degenerate: true},
		{StabilityIndex: math.NaN()},
	} {
		gain, applied := c.Update(plant, res)
		if applied {
			t.Fatal("untrusted result must not apply a gain")
		}
		if gain != 1.0 {
			t.Errorf("held gain %g, want the neutral 1.0", gain)
		}
	}
	if plant.calls != 0 {
		t.Errorf("plant touched %d times during holds", plant.calls)
	}

	good := &koopman.Result{StabilityIndex: 0}
	if _, applied := c.Update(plant, good); !applied {
		t.Fatal("clean result should apply")
	}
	gain, applied := c.Update(plant, &koopman.Result{Degenerate: true})
	if applied {
		t.Fatal("degenerate result applied a gain")
	}
	if math.Abs(gain-0.775) > 1e-12 {
		t.Errorf("hold should keep the last applied gain, got %g", gain)
	}

	st := c.Stats()
	if st.Applied != 1 || st.Held != 4 {
		t.Errorf("stats %+v, want 1 applied and 4 held", st)
	}
}

func TestNewValidatesRange(t *testing.T) {
	bad := []Options{
		{MinGain: 0.8, MaxGain: 0.5},
		{MinGain: -0.1, MaxGain: 1.0},
		{MinGain: 0.5, MaxGain: 2.5},
		{MinGain: math.NaN(), MaxGain: 1.0},
	}
	for _, opts := range bad {
		if _, err := New(opts); !errors.Is(err, oscilla.ErrInvalidConfig) {
			t.Errorf("options %+v: expected ErrInvalidConfig, got %v", opts, err)
		}
	}
}
