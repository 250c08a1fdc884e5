package fitter

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/cwbudde/algo-gamma/fitting/param"
)

const rule = "========================================================"

// WriteReport writes the acquisition summary and one row per peak, ordered
// by energy.
func (f *Fitter) WriteReport(w io.Writer) error {
	sp := f.Spectrum()
	if sp == nil {
		return ErrNoData
	}

	s := f.Settings()

	var b strings.Builder

	fmt.Fprintf(&b, "Spectrum %q\n%s\n", sp.Name, rule)
	fmt.Fprintf(&b, "Bits: %d    Resolution: %s\n", s.Bits, humanize.Comma(int64(1)<<max(s.Bits, 0)))
	fmt.Fprintf(&b, "Regions: %d    Peaks: %d\n", len(f.Regions()), len(f.Peaks()))
	fmt.Fprintf(&b, "%s\n\n", rule)

	lt, rt := s.LiveTime.Seconds(), s.RealTime.Seconds()
	fmt.Fprintf(&b, "Live time(s):   %s\n", humanize.Ftoa(lt))
	fmt.Fprintf(&b, "Real time(s):   %s\n", humanize.Ftoa(rt))

	acq := *sp
	acq.LiveTime, acq.RealTime = s.LiveTime, s.RealTime

	if dead := acq.DeadTime(); dead > 0 {
		fmt.Fprintf(&b, "Dead time(%%):   %s\n", humanize.FtoaWithDigits(dead*100, 3))
	}

	total := sp.TotalCount()
	fmt.Fprintf(&b, "Total count:    %s\n", humanize.Commaf(total))

	if total > 0 && lt > 0 {
		fmt.Fprintf(&b, "Count rate:     %s cps(total/live)\n", humanize.FtoaWithDigits(total/lt, 4))
	}

	if total > 0 && rt > 0 {
		fmt.Fprintf(&b, "Count rate:     %s cps(total/real)\n", humanize.FtoaWithDigits(total/rt, 4))
	}

	fmt.Fprintf(&b, "\n%s\n\n", rule)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight|tabwriter.Debug)

	fmt.Fprintln(tw, strings.Join([]string{
		"center", "energy", "FWHM", "area(Hyp)", "cps(Hyp)",
		"centroid(S4)", "cntr-err(S4)", "bckg-area(S4)", "bckg-err(S4)",
		"area(S4)", "area-err(S4)", "cps(S4)", "CQI",
	}, "\t")+"\t")

	for _, p := range f.Peaks() {
		area, areaRate := "-", "-"
		if p.Parametric {
			area, areaRate = p.Area().String(), num(p.AreaRate)
		}

		cols := []string{
			num(p.Center.Val), num(p.Energy.Val), num(p.FWHMEnergy),
			area, areaRate,
			"-", "-", "-", "-", "-", "-", "-", "-",
		}

		if r := p.SUM4; r.Valid() {
			cols = append(cols[:5],
				r.Centroid.String(), percent(r.Centroid),
				r.BackgroundArea.String(), percent(r.BackgroundArea),
				r.PeakArea.String(), percent(r.PeakArea),
				num(p.SumRate), strconv.Itoa(int(r.Quality)),
			)
		}

		fmt.Fprintln(tw, strings.Join(cols, "\t")+"\t")
	}

	return tw.Flush()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func percent(v param.Value) string {
	e := v.ErrorPercent()
	if math.IsInf(e, 0) || math.IsNaN(e) {
		return "-"
	}

	return strconv.FormatFloat(e, 'f', 2, 64) + "%"
}
