package fitter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cwbudde/algo-gamma/dsp/conv"
	"github.com/cwbudde/algo-gamma/dsp/finder"
	"github.com/cwbudde/algo-gamma/fitting/roi"
	"github.com/cwbudde/algo-gamma/fitting/settings"
	"github.com/cwbudde/algo-gamma/fitting/spectrum"
	"github.com/cwbudde/algo-gamma/internal/testutil"
)

func newSpectrum(t *testing.T, n int, peaks ...testutil.Peak) *spectrum.Spectrum {
	t.Helper()

	x, y := testutil.Spectrum(n, 10, peaks...)

	sp, err := spectrum.New(x, y)
	require.NoError(t, err)

	sp.Name = "test"
	sp.LiveTime = 90 * time.Second
	sp.RealTime = 100 * time.Second

	return sp
}

func newFitter(t *testing.T, sp *spectrum.Spectrum) *Fitter {
	t.Helper()

	f := New(settings.DefaultSettings(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, f.SetData(sp))

	return f
}

var triplet = []testutil.Peak{
	{Center: 100, Height: 400, Sigma: 3},
	{Center: 300, Height: 400, Sigma: 3},
	{Center: 500, Height: 400, Sigma: 3},
}

func requireDisjoint(t *testing.T, regions []*roi.ROI) {
	t.Helper()

	for i := 1; i < len(regions); i++ {
		require.Less(t, regions[i-1].Right(), regions[i].Left(),
			"regions %d and %d overlap", i-1, i)
	}
}

func TestSetData(t *testing.T) {
	f := New(settings.DefaultSettings())

	assert.ErrorIs(t, f.SetData(nil), ErrNoData)

	_, err := f.FindRegions()
	assert.ErrorIs(t, err, ErrNoData)

	zeros, err := spectrum.FromCounts(make([]float64, 20))
	require.NoError(t, err)
	assert.ErrorIs(t, f.SetData(zeros), ErrNoData)

	counts := []float64{0, 0, 5, 7, 0, 3, 0, 0}
	sp, err := spectrum.FromCounts(counts)
	require.NoError(t, err)

	sp.Bits = 12
	sp.LiveTime = time.Minute

	require.NoError(t, f.SetData(sp))
	assert.Equal(t, []float64{2, 3, 4, 5}, f.Spectrum().Bins)
	assert.Equal(t, 12, f.Settings().Bits)
	assert.Equal(t, time.Minute, f.Settings().LiveTime)
	assert.Equal(t, []float64{0, 0, 5, 7, 0, 3, 0, 0}, sp.Counts, "input modified")
}

func TestFindAndFitRegions(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	n, err := f.FindRegions()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	regions := f.Regions()
	requireDisjoint(t, regions)

	for i, r := range regions {
		assert.True(t, r.Overlaps(triplet[i].Center), "region %d misses %v", i, triplet[i].Center)
		assert.Equal(t, roi.Searched, r.State())

		got, ok := f.Region(r.Left())
		require.True(t, ok)
		assert.Same(t, r, got)
	}

	require.NoError(t, f.FitRegions(context.Background()))

	peaks := f.Peaks()
	require.Len(t, peaks, 3)

	for i, p := range peaks {
		assert.InDelta(t, triplet[i].Center, p.Center.Val, 1)
		testutil.RequireRelative(t, p.SUM4.PeakArea.Val, triplet[i].Area(), 0.05)

		parent, ok := f.ParentOf(p.ID)
		require.True(t, ok)
		assert.Same(t, regions[i], parent)
	}
}

func TestFindRegionsMergesCloseCandidates(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600,
		testutil.Peak{Center: 100, Height: 400, Sigma: 3},
		testutil.Peak{Center: 112, Height: 300, Sigma: 3},
		testutil.Peak{Center: 400, Height: 400, Sigma: 3},
	))

	n, err := f.FindRegions()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	regions := f.Regions()
	assert.True(t, regions[0].Overlaps(100))
	assert.True(t, regions[0].Overlaps(112))
	assert.True(t, regions[1].Overlaps(400))
	requireDisjoint(t, regions)
}

func TestFitRegionsCancelled(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	_, err := f.FindRegions()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.FitRegions(ctx))
	assert.Empty(t, f.Peaks())
}

func TestAddPeakOutsideRegionsCreatesOne(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600,
		testutil.Peak{Center: 100, Height: 400, Sigma: 3},
		testutil.Peak{Center: 400, Height: 400, Sigma: 3},
	))

	_, err := f.FindRegions()
	require.NoError(t, err)

	regions := f.Regions()
	require.Len(t, regions, 2)
	require.True(t, f.DeleteROI(regions[1].Left()))
	assert.False(t, f.DeleteROI(regions[1].Left()))

	ctx := context.Background()
	require.NoError(t, f.AddPeak(ctx, 370, 430))

	regions = f.Regions()
	require.Len(t, regions, 2)
	requireDisjoint(t, regions)

	pad := float64(f.Settings().BackgroundEdgeSamples)

	added, ok := f.Region(370 - pad)
	require.True(t, ok)
	assert.InDelta(t, 430+pad, added.Right(), 0)
	assert.Less(t, added.LB().Right(), 370.0)
	assert.Greater(t, added.RB().Left(), 430.0)
	require.Len(t, added.Peaks(), 1)
	assert.InDelta(t, 400, added.Peaks()[0].Center.Val, 1)

	require.NoError(t, f.AddPeak(ctx, 390, 410))
	assert.Len(t, f.Regions(), 2, "window inside a region created another")
}

func TestAddPeakNarrowWindowCreatesRegion(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, testutil.Peak{Center: 300, Height: 400, Sigma: 3}))
	require.Empty(t, f.Regions())

	require.NoError(t, f.AddPeak(context.Background(), 295, 305))

	regions := f.Regions()
	require.Len(t, regions, 1)

	r := regions[0]
	assert.Less(t, r.LB().Right(), 295.0)
	assert.Greater(t, r.RB().Left(), 305.0)

	peaks := r.Peaks()
	require.NotEmpty(t, peaks)
	assert.InDelta(t, 300, peaks[0].Center.Val, 1.5)

	assert.ErrorIs(t, f.AddPeak(context.Background(), 700, 720), roi.ErrInvalidBounds)
	assert.ErrorIs(t, f.AddPeak(context.Background(), 320, 310), roi.ErrInvalidBounds)
	assert.Len(t, f.Regions(), 1)
}

func TestAddPeakKeepsRegionsDisjoint(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	_, err := f.FindRegions()
	require.NoError(t, err)

	regions := f.Regions()
	require.Len(t, regions, 3)

	first, second := regions[0], regions[1]
	key := first.Left()

	require.NoError(t, f.AddPeak(context.Background(), first.Right()-5, second.Left()+5))

	regions = f.Regions()
	require.Len(t, regions, 3)
	requireDisjoint(t, regions)

	widened, ok := f.Region(key)
	require.True(t, ok)
	assert.Less(t, widened.Right(), second.Left())
}

func TestAdjustKeepsRegionsDisjoint(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	_, err := f.FindRegions()
	require.NoError(t, err)

	regions := f.Regions()
	require.Len(t, regions, 3)

	first, second := regions[0], regions[1]
	firstRight, secondLeft := first.Right(), second.Left()

	err = f.AdjustRB(first.Left(), secondLeft+10, secondLeft+16)
	assert.ErrorIs(t, err, roi.ErrEdgeOverlap)

	err = f.AdjustLB(secondLeft, firstRight-16, firstRight-10)
	assert.ErrorIs(t, err, roi.ErrEdgeOverlap)

	requireDisjoint(t, f.Regions())
	assert.InDelta(t, firstRight, first.Right(), 0)
	assert.InDelta(t, secondLeft, second.Left(), 0)
}

func TestFindRegionsOnFullSpectrum(t *testing.T) {
	peaks := []testutil.Peak{
		{Center: 2000, Height: 300, Sigma: 4},
		{Center: 8000, Height: 200, Sigma: 4},
		{Center: 14000, Height: 400, Sigma: 4},
	}

	sp := newSpectrum(t, 16384, peaks...)
	f := newFitter(t, sp)

	s := f.Settings()
	require.True(t, conv.UseFFT(sp.Len(), len(finder.Kernel(s.SquareWidth))))

	n, err := f.FindRegions()
	require.NoError(t, err)
	require.Equal(t, len(peaks), n)

	regions := f.Regions()
	requireDisjoint(t, regions)

	for i, r := range regions {
		assert.True(t, r.Overlaps(peaks[i].Center), "region %d misses %v", i, peaks[i].Center)
	}
}

func TestPeakRouting(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	_, err := f.FindRegions()
	require.NoError(t, err)
	require.NoError(t, f.FitRegions(context.Background()))

	peaks := f.Peaks()
	require.Len(t, peaks, 3)

	p := peaks[1]
	p.Hypermet.Height.Value *= 2
	require.NoError(t, f.ReplacePeak(p))

	r, ok := f.ParentOf(p.ID)
	require.True(t, ok)

	got, ok := r.Peak(p.ID)
	require.True(t, ok)
	assert.InDelta(t, p.Hypermet.Height.Value, got.Hypermet.Height.Value, 0)

	p.ID = uuid.New()
	assert.ErrorIs(t, f.ReplacePeak(p), roi.ErrUnknownPeak)

	n, err := f.RemovePeaks(peaks[0].ID, peaks[2].ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.Peaks(), 1)
}

func TestAdjustRekeysRegion(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	_, err := f.FindRegions()
	require.NoError(t, err)

	r := f.Regions()[1]
	old := r.Left()
	left := old + 10

	require.NoError(t, f.AdjustLB(old, left, left+6))

	_, ok := f.Region(old)
	assert.False(t, ok)

	moved, ok := f.Region(left)
	require.True(t, ok)
	assert.Same(t, r, moved)

	require.NoError(t, f.AdjustRB(left, r.Right()-6, r.Right()))
	assert.ErrorIs(t, f.AdjustLB(old, old, old+6), ErrUnknownRegion)
}

func TestDocumentRoundTrip(t *testing.T) {
	sp := newSpectrum(t, 600, triplet...)
	f := newFitter(t, sp)

	_, err := f.FindRegions()
	require.NoError(t, err)
	require.NoError(t, f.FitRegions(context.Background()))

	data, err := f.Document().Marshal()
	require.NoError(t, err)

	doc, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "test", doc.Spectrum)

	loaded := newFitter(t, sp)
	n, err := loaded.Load(doc)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want, got := f.Peaks(), loaded.Peaks()
	require.Len(t, got, len(want))

	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.InDelta(t, want[i].Center.Val, got[i].Center.Val, 1e-9)
	}

	_, err = New(settings.DefaultSettings()).Load(doc)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestWriteReport(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	var buf bytes.Buffer
	require.NoError(t, f.WriteReport(&buf))
	assert.Contains(t, buf.String(), `Spectrum "test"`)

	_, err := f.FindRegions()
	require.NoError(t, err)
	require.NoError(t, f.FitRegions(context.Background()))

	buf.Reset()
	require.NoError(t, f.WriteReport(&buf))

	out := buf.String()
	for _, want := range []string{"Live time(s):   90", "Dead time(%):   10", "Total count:", "CQI"} {
		assert.Contains(t, out, want)
	}

	_, table, ok := strings.Cut(out, "center")
	require.True(t, ok)
	assert.Len(t, strings.Split(strings.TrimSpace(table), "\n"), 4)

	assert.ErrorIs(t, New(settings.DefaultSettings()).WriteReport(&buf), ErrNoData)
}

func TestReadsDuringFit(t *testing.T) {
	f := newFitter(t, newSpectrum(t, 600, triplet...))

	_, err := f.FindRegions()
	require.NoError(t, err)

	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			select {
			case <-done:
				return
			default:
			}

			for _, p := range f.Peaks() {
				if p.ID == uuid.Nil {
					t.Error("peak without ID")
				}
			}

			_ = f.Document()
		}
	}()

	require.NoError(t, f.FitRegions(context.Background()))
	close(done)
	wg.Wait()

	assert.Len(t, f.Peaks(), 3)
}
