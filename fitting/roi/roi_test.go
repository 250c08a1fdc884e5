package roi

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/peak"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/shape"
	"github.com/cwbudde/algo-gamma/internal/testutil"
)

func parentOf(t *testing.T, n int, peaks ...testutil.Peak) *finder.Finder {
	t.Helper()

	x, y := testutil.Spectrum(n, 10, peaks...)

	f, err := finder.New(x, y)
	require.NoError(t, err)

	return f
}

func newROI(t *testing.T, parent *finder.Finder, s settings.Settings, left, right float64) *ROI {
	t.Helper()

	r := New(s)
	require.NoError(t, r.SetData(parent, left, right))

	return r
}

func requireInside(t *testing.T, r *ROI) {
	t.Helper()

	for _, p := range r.Peaks() {
		require.Greater(t, p.Center.Val, r.LB().Right(), "peak %v left of LB", p.Center.Val)
		require.Less(t, p.Center.Val, r.RB().Left(), "peak %v right of RB", p.Center.Val)
	}
}

func TestSetData(t *testing.T) {
	parent := parentOf(t, 200)
	r := New(settings.DefaultSettings())

	assert.Equal(t, Empty, r.State())
	assert.ErrorIs(t, r.AutoFit(context.Background()), ErrEmpty)
	assert.ErrorIs(t, r.SetData(parent, 50, 40), ErrInvalidBounds)
	assert.ErrorIs(t, r.SetData(parent, 50, 55), ErrInvalidBounds)
	assert.ErrorIs(t, r.SetData(nil, 0, 10), ErrEmpty)

	require.NoError(t, r.SetData(parent, 20, 120))
	assert.Equal(t, Searched, r.State())
	assert.InDelta(t, 20, r.Left(), 0)
	assert.InDelta(t, 120, r.Right(), 0)
	assert.Equal(t, 0, r.LB().Start)
	assert.Equal(t, 100, r.RB().End)
	assert.Len(t, r.History(), 1)
	assert.True(t, r.Overlaps(60))
	assert.True(t, r.OverlapsRange(0, 300))
	assert.False(t, r.OverlapsRange(130, 140))
}

func TestBackgroundMatchesEdges(t *testing.T) {
	x := testutil.Bins(120)
	y := make([]float64, len(x))

	for i := range y {
		y[i] = 40 + 0.25*x[i]
	}

	parent, err := finder.New(x, y)
	require.NoError(t, err)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 119)

	lb, rb := r.LB(), r.RB()
	bg := r.Background()

	testutil.RequireNear(t, bg.Eval(lb.Right()), lb.Average, 1e-9)
	testutil.RequireNear(t, bg.Eval(rb.Left()), rb.Average, 1e-9)

	sum := r.SumBackground()
	testutil.RequireNear(t, sum.Eval(lb.Right()), lb.Average, 1e-9)
	testutil.RequireNear(t, sum.Eval(rb.Left()), rb.Average, 1e-9)
}

func TestAutoFitSingleGaussian(t *testing.T) {
	injected := testutil.Peak{Center: 100, Height: 500, Sigma: 5}
	parent := parentOf(t, 200, injected)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))

	peaks := r.Peaks()
	require.Len(t, peaks, 1)
	assert.Equal(t, Fitted, r.State())

	p := peaks[0]
	require.True(t, p.Parametric)
	assert.InDelta(t, 100, p.Center.Val, 1)
	require.True(t, p.SUM4.Valid())
	testutil.RequireRelative(t, p.SUM4.PeakArea.Val, injected.Area(), 0.05)
	testutil.RequireRelative(t, p.Area().Val, injected.Area(), 0.05)
	assert.Greater(t, r.RSquared(), 0.99)

	c := r.Curves()
	testutil.RequireFinite(t, c.Fit...)
	testutil.RequireFinite(t, c.Background...)

	worst, err := testutil.MaxAbsDiff(c.Fit, c.Counts)
	require.NoError(t, err)
	assert.Less(t, worst, 25.0)

	ref, err := r.IterativeFit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ref.Accepted)
	assert.Len(t, ref.RSquared, 1)
	assert.Len(t, r.Peaks(), 1)
}

func TestSummationIgnoresRegressionBackground(t *testing.T) {
	parent := parentOf(t, 200, testutil.Peak{Center: 100, Height: 500, Sigma: 5})

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	before := r.SumBackground()

	require.NoError(t, r.AutoFit(context.Background()))

	if diff := cmp.Diff(before, r.SumBackground()); diff != "" {
		t.Fatalf("summation background changed by regression (-before +after):\n%s", diff)
	}
}

func TestAutoFitResolvesCloseDoublet(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 100, Height: 300, Sigma: 1},
		testutil.Peak{Center: 103, Height: 200, Sigma: 1},
	)

	s := settings.DefaultSettings()
	s.SquareWidth = 1

	r := newROI(t, parent, s, 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))

	peaks := r.Peaks()
	require.Len(t, peaks, 2)
	assert.InDelta(t, 100, peaks[0].Center.Val, 1)
	assert.InDelta(t, 103, peaks[1].Center.Val, 1)
}

// loadSingle loads a deliberately poor one-peak model over a doublet.
func loadSingle(t *testing.T, s settings.Settings) (*ROI, *finder.Finder) {
	t.Helper()

	parent := parentOf(t, 200,
		testutil.Peak{Center: 100, Height: 300, Sigma: 1.5},
		testutil.Peak{Center: 103, Height: 200, Sigma: 1.5},
	)

	r := newROI(t, parent, s, 0, 199)

	h := shape.FromGaussian(shape.NewGaussian(101.5, 300, 2.5), shape.DefaultComponents())
	doc := r.Document()
	doc.Peaks = []PeakDocument{{Hypermet: &h}}

	require.NoError(t, r.Load(parent, doc))
	require.Len(t, r.Peaks(), 1)

	return r, parent
}

func TestIterativeFitRespectsSeparation(t *testing.T) {
	s := settings.DefaultSettings()
	s.ResidTooClose = 3

	r, _ := loadSingle(t, s)

	ref, err := r.IterativeFit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ref.Accepted)
	assert.Len(t, r.Peaks(), 1)
}

func TestIterativeFitImprovesMonotonically(t *testing.T) {
	s := settings.DefaultSettings()
	s.ResidTooClose = 0

	r, _ := loadSingle(t, s)
	start := len(r.History())

	ref, err := r.IterativeFit(context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, ref.Accepted, 1)
	assert.LessOrEqual(t, ref.Accepted, s.ResidMaxIterations)
	require.Len(t, ref.RSquared, ref.Accepted+1)

	for i := 1; i < len(ref.RSquared); i++ {
		assert.Greater(t, ref.RSquared[i], ref.RSquared[i-1])
	}

	assert.Len(t, r.History(), start+ref.Accepted)
	assert.False(t, ref.Cancelled)
}

func TestIterativeFitCancelled(t *testing.T) {
	s := settings.DefaultSettings()
	s.ResidTooClose = 0

	r, _ := loadSingle(t, s)
	before := r.Peaks()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ref, err := r.IterativeFit(ctx)
	require.NoError(t, err)
	assert.True(t, ref.Cancelled)
	assert.Equal(t, 0, ref.Accepted)
	assert.Empty(t, cmp.Diff(before, r.Peaks(), cmpopts.EquateNaNs()))
}

func TestIterativeFitNeedsRegressionPeaks(t *testing.T) {
	parent := parentOf(t, 200)
	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)

	_, err := r.IterativeFit(context.Background())
	assert.ErrorIs(t, err, ErrNothingToFit)
}

func TestRollback(t *testing.T) {
	parent := parentOf(t, 200, testutil.Peak{Center: 100, Height: 500, Sigma: 5})
	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))

	fitted := r.Peaks()
	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, 1, r.Current())

	require.NoError(t, r.Rollback(0))
	assert.Empty(t, r.Peaks())
	assert.Equal(t, 0, r.Current())

	require.NoError(t, r.Rollback(1))
	first, firstBG := r.Peaks(), r.Background()

	require.NoError(t, r.Rollback(1))

	opts := cmp.Options{cmpopts.EquateNaNs()}
	assert.Empty(t, cmp.Diff(first, r.Peaks(), opts))
	assert.Empty(t, cmp.Diff(firstBG, r.Background(), opts))
	assert.Empty(t, cmp.Diff(fitted, r.Peaks(), opts))

	assert.ErrorIs(t, r.Rollback(2), ErrHistoryIndex)
	assert.ErrorIs(t, r.Rollback(-1), ErrHistoryIndex)
	assert.Equal(t, 1, r.Current())
	assert.Len(t, r.History(), 2)
}

func TestDocumentRoundTrip(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 300, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))
	require.Len(t, r.Peaks(), 2)

	data, err := r.Document().Marshal()
	require.NoError(t, err)

	doc, err := ParseDocument(data)
	require.NoError(t, err)

	loaded := New(settings.DefaultSettings())
	require.NoError(t, loaded.Load(parent, doc))

	want, got := r.Peaks(), loaded.Peaks()
	require.Len(t, got, len(want))

	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.InDelta(t, want[i].Center.Val, got[i].Center.Val, 1e-9)
		assert.Equal(t, want[i].SUM4.Left, got[i].SUM4.Left)
		assert.Equal(t, want[i].SUM4.Right, got[i].SUM4.Right)
	}

	assert.Equal(t, r.Background().Values(), loaded.Background().Values())
	assert.Equal(t, r.LB().Start, loaded.LB().Start)
	assert.Equal(t, r.RB().End, loaded.RB().End)
	assert.InDelta(t, r.RSquared(), loaded.RSquared(), 1e-12)
}

func TestLoadSkipsBadPeaks(t *testing.T) {
	parent := parentOf(t, 200)
	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)

	outside := shape.FromGaussian(shape.NewGaussian(2, 50, 2), shape.DefaultComponents())

	doc := r.Document()
	doc.Peaks = []PeakDocument{
		{ID: "not-a-uuid", SUM4: &Bounds{Left: 90, Right: 110}},
		{Hypermet: &outside},
		{},
	}

	require.NoError(t, r.Load(parent, doc))

	peaks := r.Peaks()
	require.Len(t, peaks, 1)
	assert.True(t, peaks[0].IsSummation())
	assert.NotEqual(t, uuid.Nil, peaks[0].ID)

	doc.LB = Bounds{Left: 0, Right: 150}
	doc.RB = Bounds{Left: 100, Right: 199}
	assert.ErrorIs(t, r.Load(parent, doc), ErrEdgeOverlap)
}

func TestAdjustEdgesCull(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 400, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))
	require.Len(t, r.Peaks(), 2)

	require.NoError(t, r.AdjustLB(parent, 80, 86))
	requireInside(t, r)
	assert.InDelta(t, 80, r.Left(), 0)
	require.Len(t, r.Peaks(), 1)
	assert.InDelta(t, 140, r.Peaks()[0].Center.Val, 1)

	require.NoError(t, r.AdjustRB(parent, 150, 160))
	requireInside(t, r)
	assert.InDelta(t, 160, r.Right(), 0)
	require.Len(t, r.Peaks(), 1)

	require.NoError(t, r.AdjustRB(parent, 130, 135))
	requireInside(t, r)
	assert.Empty(t, r.Peaks())
	assert.Equal(t, Searched, r.State())

	before := len(r.History())
	assert.ErrorIs(t, r.AdjustLB(parent, 80, 131), ErrEdgeOverlap)
	assert.ErrorIs(t, r.AdjustRB(parent, 84, 90), ErrEdgeOverlap)
	assert.Len(t, r.History(), before)
}

func TestAddPeakSummationOnly(t *testing.T) {
	parent := parentOf(t, 200, testutil.Peak{Center: 60, Height: 400, Sigma: 3})

	s := settings.DefaultSettings()
	s.SummationOnly = true

	r := newROI(t, parent, s, 20, 100)
	require.NoError(t, r.AddPeak(context.Background(), parent, 50, 70))

	peaks := r.Peaks()
	require.Len(t, peaks, 1)
	assert.True(t, peaks[0].IsSummation())
	assert.InDelta(t, 60, peaks[0].Center.Val, 0.5)
	assert.Equal(t, Fitted, r.State())

	assert.ErrorIs(t, r.AddPeak(context.Background(), parent, 70, 50), ErrInvalidBounds)
}

func TestAddPeakOnExterior(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 400, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 30, 90)
	require.NoError(t, r.AutoFit(context.Background()))
	require.Len(t, r.Peaks(), 1)

	require.NoError(t, r.AddPeak(context.Background(), parent, 130, 170))
	assert.InDelta(t, 30, r.Left(), 0)
	assert.InDelta(t, 170, r.Right(), 0)
	requireInside(t, r)

	var found bool
	for _, p := range r.Peaks() {
		found = found || math.Abs(p.Center.Val-140) < 2
	}

	assert.True(t, found, "no peak near 140 in %v", r.Peaks())
}

func TestAddPeakCentroidInsideEdges(t *testing.T) {
	x, y := testutil.Spectrum(100, 10)
	y[10] = 60

	for i := 11; i <= 14; i++ {
		y[i] = 0
	}

	parent, err := finder.New(x, y)
	require.NoError(t, err)

	s := settings.DefaultSettings()
	s.SummationOnly = true

	r := newROI(t, parent, s, 0, 99)
	require.NoError(t, r.AddPeak(context.Background(), parent, 10, 14))

	peaks := r.Peaks()
	require.Len(t, peaks, 1)
	assert.True(t, peaks[0].IsSummation())
	assert.InDelta(t, 12, peaks[0].Center.Val, 1e-9)
	requireInside(t, r)
}

func TestAutoFitFallsBackToSummation(t *testing.T) {
	// the candidate lies in the left edge, so no regression seed is inside
	parent := parentOf(t, 200, testutil.Peak{Center: 5, Height: 300, Sigma: 1})

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))

	peaks := r.Peaks()
	require.NotEmpty(t, peaks)

	for _, p := range peaks {
		assert.True(t, p.IsSummation(), "peak at %v is parametric", p.Center.Val)
	}

	assert.Equal(t, Fitted, r.State())
	requireInside(t, r)
}

func TestAdjustEdgeMarksStaleWhenRefitFails(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 300, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))
	require.Len(t, r.Peaks(), 2)

	r.settings.Method = "simplex"
	before := len(r.History())

	require.NoError(t, r.AdjustRB(parent, 180, 199))
	assert.Equal(t, Stale, r.State())
	assert.InDelta(t, 180, r.RB().Left(), 0)
	assert.Len(t, r.History(), before+1)
	requireInside(t, r)

	peaks := r.Peaks()
	require.Len(t, peaks, 2)

	for _, p := range peaks {
		assert.True(t, p.SUM4.Valid())
		assert.Less(t, p.SUM4.Right, r.RB().Start)
	}
}

func TestRebuildFollowsComponents(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 300, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))

	peaks := r.Peaks()
	require.Len(t, peaks, 2)

	for _, p := range peaks {
		assert.True(t, p.Hypermet.IsGaussian())
	}

	tallest := peaks[0]
	tallest.Hypermet.Step.Enabled = true
	require.NoError(t, r.ReplacePeak(tallest))

	require.NoError(t, r.AdjustRB(parent, 190, 199))
	assert.Equal(t, Fitted, r.State())

	peaks = r.Peaks()
	require.Len(t, peaks, 2)

	for _, p := range peaks {
		assert.False(t, p.Hypermet.IsGaussian(), "peak at %v fitted without step", p.Center.Val)
		assert.True(t, p.Hypermet.Step.Enabled)
	}
}

func TestRebuildWithoutRegressionPeaks(t *testing.T) {
	parent := parentOf(t, 200, testutil.Peak{Center: 60, Height: 400, Sigma: 3})

	s := settings.DefaultSettings()
	s.SummationOnly = true

	r := newROI(t, parent, s, 20, 100)
	require.NoError(t, r.AddPeak(context.Background(), parent, 50, 70))

	before := r.Peaks()
	require.Len(t, before, 1)

	history := len(r.History())
	opts := cmp.Options{cmpopts.EquateNaNs()}

	trial := r.state().clone()
	assert.ErrorIs(t, r.rebuild(trial, r.Settings()), ErrNothingToFit)
	assert.Empty(t, cmp.Diff(before, trial.list(), opts))

	_, err := r.IterativeFit(context.Background())
	assert.ErrorIs(t, err, ErrNothingToFit)
	assert.Len(t, r.History(), history)
	assert.Empty(t, cmp.Diff(before, r.Peaks(), opts))
}

func TestRemoveAndReplacePeaks(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 300, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)
	require.NoError(t, r.AutoFit(context.Background()))

	peaks := r.Peaks()
	require.Len(t, peaks, 2)

	n, err := r.RemovePeaks(uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = r.RemovePeaks(peaks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, r.Peaks(), 1)
	assert.Equal(t, peaks[1].ID, r.Peaks()[0].ID)
	assert.False(t, r.Contains(peaks[0].ID))

	p, ok := r.Peak(peaks[1].ID)
	require.True(t, ok)

	p.Hypermet.Height.Value *= 2
	require.NoError(t, r.ReplacePeak(p))

	got, _ := r.Peak(p.ID)
	assert.InDelta(t, p.Hypermet.Height.Value, got.Hypermet.Height.Value, 0)

	assert.ErrorIs(t, r.ReplacePeak(peak.Peak{ID: uuid.New()}), ErrUnknownPeak)

	p.Hypermet.Center.Value = 1
	assert.ErrorIs(t, r.ReplacePeak(p), ErrEdgeOverlap)
}

func TestReadersSeeWholeStates(t *testing.T) {
	parent := parentOf(t, 200,
		testutil.Peak{Center: 60, Height: 400, Sigma: 3},
		testutil.Peak{Center: 140, Height: 300, Sigma: 3},
	)

	r := newROI(t, parent, settings.DefaultSettings(), 0, 199)

	var wg sync.WaitGroup

	done := make(chan struct{})

	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			select {
			case <-done:
				return
			default:
			}

			if n := len(r.Peaks()); n != 0 && n != 2 {
				t.Errorf("reader saw %d peaks", n)
				return
			}

			_ = r.Curves()
		}
	}()

	require.NoError(t, r.AutoFit(context.Background()))
	close(done)
	wg.Wait()

	assert.Len(t, r.Peaks(), 2)
}

func TestOverrideSettings(t *testing.T) {
	r := New(settings.DefaultSettings())

	bad := settings.DefaultSettings()
	bad.Bits = 0
	assert.Error(t, r.OverrideSettings(bad))

	s := settings.DefaultSettings()
	s.SumWindowFWHM = 2
	require.NoError(t, r.OverrideSettings(s))
	assert.InDelta(t, 2, r.Settings().SumWindowFWHM, 0)

	parent := parentOf(t, 100)
	require.NoError(t, r.SetData(parent, 0, 99))
	require.NotNil(t, r.Document().Settings)

	c := r.Clone()
	assert.InDelta(t, r.Left(), c.Left(), 0)
	assert.Len(t, c.History(), 1)
}
