package sensitivity

import (
	"math"
	"testing"

	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/solver"
)

// lopsidedPair builds two oscillators where the a->b edge carries nearly all
// of the coupling, so disabling it should dominate any impact ranking.
func lopsidedPair() *phase.Network {
	net := phase.NewNetwork(2.0)
	net.AddNode("a", 0, 0)
	net.AddNode("b", 2.0, 1.0)
	net.AddEdge("a", "b", 1.0, 0)
	net.AddEdge("b", "a", 0.05, 0)
	return net
}

func TestEdgeKey(t *testing.T) {
	if got := EdgeKey("a", "b"); got != "a->b" {
		t.Errorf("EdgeKey = %q, want a->b", got)
	}
}

func TestAnalyzeWeightsFlagsCriticalEdge(t *testing.T) {
	a := NewAnalyzer(lopsidedPair(), meanSyncScorer).WithTimeSpan(0, 20)
	res := a.AnalyzeWeights()

	if res.Baseline < 0.85 {
		t.Fatalf("baseline sync = %f, want locked (> 0.85)", res.Baseline)
	}
	if len(res.Ranking) != 2 {
		t.Fatalf("ranking has %d entries, want 2", len(res.Ranking))
	}
	if res.Ranking[0].Name != "a->b" {
		t.Errorf("top-ranked edge = %s, want a->b", res.Ranking[0].Name)
	}
	if res.Impact["a->b"] >= 0 {
		t.Errorf("disabling a->b impact = %f, want negative", res.Impact["a->b"])
	}
	if math.Abs(res.Impact["a->b"]) <= math.Abs(res.Impact["b->a"]) {
		t.Errorf("a->b impact %f not larger than b->a impact %f",
			res.Impact["a->b"], res.Impact["b->a"])
	}
}

func TestAnalyzeWeightsParallelMatchesSequential(t *testing.T) {
	net := lopsidedPair()
	seq := NewAnalyzer(net, meanSyncScorer).WithTimeSpan(0, 20).AnalyzeWeights()
	par := NewAnalyzer(net, meanSyncScorer).WithTimeSpan(0, 20).AnalyzeWeightsParallel()

	for key, want := range seq.Scores {
		got, ok := par.Scores[key]
		if !ok {
			t.Fatalf("parallel result missing %s", key)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("parallel score for %s = %f, sequential %f", key, got, want)
		}
	}
}

func TestBaseNetworkNotMutated(t *testing.T) {
	net := lopsidedPair()
	before := net.Nodes["b"].Phase

	NewAnalyzer(net, SyncScorer()).WithTimeSpan(0, 10).AnalyzeWeights()

	if net.Nodes["b"].Phase != before {
		t.Errorf("base network phase changed from %f to %f", before, net.Nodes["b"].Phase)
	}
	if w := net.Edges[0].Weight; w != 1.0 {
		t.Errorf("base network edge weight changed to %f", w)
	}
}

// meanSyncScorer averages the pair alignment over the whole trajectory, so
// unlocked runs score near 0.5 instead of whatever the final instant shows.
func meanSyncScorer(_ *phase.Network, sol *solver.Solution) float64 {
	var sum float64
	for _, st := range sol.U {
		s := math.Sin((st["a"] - st["b"]) / 2)
		sum += s * s
	}
	return 1 - sum/float64(len(sol.U))
}

func TestSweepCoupling(t *testing.T) {
	// Mismatched frequencies: stronger coupling means a tighter lock.
	net := phase.NewNetwork(0.2)
	net.AddNode("a", 0, 0)
	net.AddNode("b", 1.0, 0.8)
	net.AddEdge("a", "b", 1.0, 0)
	net.AddEdge("b", "a", 1.0, 0)

	a := NewAnalyzer(net, meanSyncScorer).WithTimeSpan(0, 30)
	sw := a.SweepRange(Coupling, 0.1, 2.0, 6)

	if len(sw.Scores) != 6 {
		t.Fatalf("sweep has %d scores, want 6", len(sw.Scores))
	}
	if sw.Scores[len(sw.Scores)-1] <= sw.Scores[0] {
		t.Errorf("sync at K=2.0 (%f) not above sync at K=0.1 (%f)",
			sw.Scores[len(sw.Scores)-1], sw.Scores[0])
	}
	if sw.Best.Score < sw.Worst.Score {
		t.Errorf("best %f below worst %f", sw.Best.Score, sw.Worst.Score)
	}
	if sw.Best.Value <= sw.Worst.Value {
		t.Errorf("best coupling %f not above worst %f", sw.Best.Value, sw.Worst.Value)
	}
}

func TestCouplingGradientSign(t *testing.T) {
	// Under-coupled mismatched pair: more coupling raises sync.
	net := phase.NewNetwork(0.5)
	net.AddNode("a", 0, 0)
	net.AddNode("b", 1.0, 0.8)
	net.AddEdge("a", "b", 1.0, 0)
	net.AddEdge("b", "a", 1.0, 0)

	a := NewAnalyzer(net, meanSyncScorer).WithTimeSpan(0, 30)
	grad := a.Gradient(Coupling, 0.1)
	if !(grad > 0) {
		t.Errorf("coupling gradient = %f, want positive", grad)
	}
}

func TestAllGradientsParallelMatchesSequential(t *testing.T) {
	net := lopsidedPair()
	a := NewAnalyzer(net, SyncScorer()).WithTimeSpan(0, 15)

	seq := a.AllGradients(0.05)
	par := a.AllGradientsParallel(0.05)
	if len(seq) != 2 || len(par) != 2 {
		t.Fatalf("gradient maps have %d and %d entries, want 2", len(seq), len(par))
	}
	for key, want := range seq {
		if got := par[key]; math.Abs(got-want) > 1e-9 {
			t.Errorf("parallel gradient for %s = %f, sequential %f", key, got, want)
		}
	}
}

func TestGridSearch(t *testing.T) {
	net := lopsidedPair()
	a := NewAnalyzer(net, SyncScorer()).WithTimeSpan(0, 15)

	grid := NewGridSearch(a).
		AddParameter(Coupling, []float64{0.5, 2.0}).
		AddParameterRange("a->b", 0.5, 1.5, 3)
	res := grid.Run()

	if len(res.Combinations) != 6 {
		t.Fatalf("grid has %d combinations, want 6", len(res.Combinations))
	}
	for i, score := range res.Scores {
		if score > res.Best.Score {
			t.Errorf("combination %d score %f exceeds reported best %f", i, score, res.Best.Score)
		}
	}
	if res.Best.Parameters == nil {
		t.Fatal("grid search reported no best parameters")
	}
}

func TestStabilityScorerOnRelaxingPair(t *testing.T) {
	// Two equal-frequency oscillators relaxing toward alignment: the
	// transient is dominated by a decaying mode, so the fitted index
	// should come out stable.
	net := phase.NewNetwork(0.5)
	net.AddNode("a", 0, 0)
	net.AddNode("b", 1.5, 0)
	net.AddEdge("a", "b", 1.0, 0)
	net.AddEdge("b", "a", 1.0, 0)

	a := NewAnalyzer(net, StabilityScorer(40, koopman.DefaultOptions())).
		WithTimeSpan(0, 4).
		WithOptions(solver.DefaultOptions())
	score := a.simulate(nil)

	if math.IsNaN(score) {
		t.Fatal("stability score is NaN for a clean relaxation trajectory")
	}
	if score <= 0 {
		t.Errorf("stability index = %f, want positive for a decaying transient", score)
	}
}
