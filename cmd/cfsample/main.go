// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// cfsample exercises the coefficient engine on a triangulated unit square:
// it builds a two-material demo coefficient, integrates it with Gauss
// quadrature (sequentially and in parallel), reports gradient statistics at
// the element centers, and optionally samples the profile along y=0.5 into an
// SVG plot.
//
// Example:
//
//	cfsample --n=64 --order=3 --plot=/tmp/profile.svg
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	mg "github.com/erkkah/margaid"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/coefficients/cf"
	"github.com/gomlx/coefficients/mesh"
	"github.com/gomlx/coefficients/types/xslices"
)

var (
	flagN       = flag.Int("n", 32, "Grid cells per side of the unit square mesh.")
	flagOrder   = flag.Int("order", 3, "Gauss points per axis for the quadrature.")
	flagWorkers = flag.Int("workers", runtime.NumCPU(), "Workers for the parallel integration.")
	flagKappa   = flag.Float64("kappa", 2.5, "Value bound to the kappa parameter of the demo coefficient.")
	flagPlot    = flag.String("plot", "", "Write an SVG plot of the profile along y=0.5 to this file. Empty disables it.")
	flagSamples = flag.Int("samples", 256, "Sample points of the profile plot.")
)

// Region ids of the two-material demo domain, split at x=0.5.
const (
	leftRegion = iota
	rightRegion
)

func classify(point []float64) int {
	if point[0] < 0.5 {
		return leftRegion
	}
	return rightRegion
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	m := mesh.NewUnitSquare(*flagN)
	m.SetRegions(classify)
	f, kappa := buildCoefficient()
	klog.V(1).Infof("coefficient: %s", f)

	reportIntegrals(f, kappa, m)
	reportGradients(f, kappa, m)

	if *flagPlot != "" {
		xs, values, slopes := sampleProfile(f, kappa)
		must.M(writePlot(*flagPlot, xs, values, slopes))
		fmt.Printf("Profile plot written to %s\n", *flagPlot)
	}
}

// buildCoefficient assembles the demo coefficient
//
//	f(x, y) = kappa · material(region) · (sin(πx)·sin(πy) + bump(x))
//
// with material 1 on the left half, 5 on the right half, and a quadratic
// B-spline bump centered at x=0.5.
func buildCoefficient() (f, kappa *cf.Node) {
	kappa = cf.Parameter("kappa", 1)
	material := cf.DomainConstant(map[int]float64{leftRegion: 1, rightRegion: 5})
	source := cf.Mul(
		cf.Sin(cf.MulScalar(cf.X(), math.Pi)),
		cf.Sin(cf.MulScalar(cf.Y(), math.Pi)))
	bump := cf.BSplineProfile(0, 2,
		[]float64{0, 0.25, 0.5, 0.75, 1},
		[]float64{0, 0, 1, 0.5, 0, 0})
	f = cf.Mul(kappa, cf.Mul(material, cf.Add(source, bump)))
	return
}

var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	tableBorderColor  = "#705090"
)

func newStatsTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

func reportIntegrals(f, kappa *cf.Node, m *mesh.Mesh) {
	bind := mesh.WithEvalOptions(cf.WithParameter(kappa, *flagKappa))

	start := time.Now()
	sequential := must.M1(mesh.Integrate(f, m, *flagOrder, bind))
	sequentialTime := time.Since(start)

	start = time.Now()
	parallel := must.M1(mesh.Integrate(f, m, *flagOrder, bind, mesh.WithWorkers(*flagWorkers)))
	parallelTime := time.Since(start)

	byRegion := must.M1(mesh.IntegrateByRegion(f, m, *flagOrder, bind))

	quadPoints := m.NumElements() * (*flagOrder) * (*flagOrder)
	fmt.Println(titleStyle.Render("Integration"))
	table := newStatsTable()
	table.Row("mesh elements", humanize.Comma(int64(m.NumElements())))
	table.Row("quadrature points", humanize.Comma(int64(quadPoints)))
	table.Row("kappa", fmt.Sprintf("%g", *flagKappa))
	table.Row("integral (sequential)", fmt.Sprintf("%.9f", sequential))
	table.Row("integral (parallel)", fmt.Sprintf("%.9f", parallel))
	for _, region := range xslices.SortedKeys(byRegion) {
		table.Row(fmt.Sprintf("integral (region %d)", region), fmt.Sprintf("%.9f", byRegion[region]))
	}
	table.Row("sequential time", sequentialTime.Round(time.Microsecond).String())
	table.Row(fmt.Sprintf("parallel time (%d workers)", *flagWorkers), parallelTime.Round(time.Microsecond).String())
	if parallelTime > 0 {
		table.Row("speed-up", fmt.Sprintf("%.2fx", float64(sequentialTime)/float64(parallelTime)))
	}
	fmt.Println(table.Render())
}

func reportGradients(f, kappa *cf.Node, m *mesh.Mesh) {
	ev := cf.NewEvaluator(f)
	centers := m.CenterContexts()
	values, grads := must.M2(ev.EvaluateGradient(centers, cf.WithParameter(kappa, *flagKappa)))

	minValue := xslices.Min(values.Flat())
	maxValue := xslices.Max(values.Flat())
	var maxNorm float64
	for i := 0; i < grads.NumItems(); i++ {
		g := grads.Item(i)
		maxNorm = math.Max(maxNorm, math.Hypot(g[0], g[1]))
	}

	fmt.Println(titleStyle.Render("Element centers"))
	table := newStatsTable()
	table.Row("centers evaluated", humanize.Comma(int64(values.NumItems())))
	table.Row("min value", fmt.Sprintf("%.6f", minValue))
	table.Row("max value", fmt.Sprintf("%.6f", maxValue))
	table.Row("max |grad|", fmt.Sprintf("%.6f", maxNorm))
	fmt.Println(table.Render())
}

// sampleProfile evaluates f and df/dx along the horizontal line y=0.5.
func sampleProfile(f, kappa *cf.Node) (xs, values, slopes []float64) {
	ev := cf.NewEvaluator(f)
	n := *flagSamples
	xs = xslices.Map(xslices.Iota(0.5, n), func(v float64) float64 { return v / float64(n) })
	values = make([]float64, 0, n)
	slopes = make([]float64, 0, n)

	bar := progressbar.NewOptions(n,
		progressbar.OptionSetDescription("sampling profile"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("points"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII))
	out := termenv.NewOutput(os.Stdout)
	out.HideCursor()
	defer out.ShowCursor()

	const chunkSize = 64
	for startIdx := 0; startIdx < n; startIdx += chunkSize {
		endIdx := min(startIdx+chunkSize, n)
		batch := make([]*cf.Context, 0, endIdx-startIdx)
		for i := startIdx; i < endIdx; i++ {
			point := []float64{xs[i], 0.5}
			batch = append(batch, &cf.Context{X: point, ElemID: cf.NoElement, Region: classify(point)})
		}
		chunkValues, chunkGrads := must.M2(ev.EvaluateGradient(batch, cf.WithParameter(kappa, *flagKappa)))
		for i := range batch {
			values = append(values, chunkValues.Scalar(i))
			slopes = append(slopes, chunkGrads.Item(i)[0])
		}
		_ = bar.Add(endIdx - startIdx)
	}
	_ = bar.Finish()
	fmt.Println()
	return
}

func writePlot(path string, xs, values, slopes []float64) error {
	valueSeries := mg.NewSeries(mg.Titled("f"))
	slopeSeries := mg.NewSeries(mg.Titled("df/dx"))
	allPoints := mg.NewSeries()
	for i, x := range xs {
		v := mg.MakeValue(x, values[i])
		s := mg.MakeValue(x, slopes[i])
		valueSeries.Add(v)
		slopeSeries.Add(s)
		allPoints.Add(v)
		allPoints.Add(s)
	}
	diagram := mg.New(1024, 400,
		mg.WithAutorange(mg.XAxis, valueSeries, slopeSeries),
		mg.WithAutorange(mg.YAxis, valueSeries, slopeSeries),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"))
	diagram.Line(valueSeries, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingStrokeWidth(2))
	diagram.Line(slopeSeries, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingStrokeWidth(2))
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 2, 10), false, "x")
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 2, 10), true, "value")
	diagram.Frame()
	diagram.Title("Profile along y=0.5")
	diagram.Legend(mg.BottomLeft)

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating plot file %q", path)
	}
	if err = diagram.Render(file); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "rendering plot to %q", path)
	}
	return errors.Wrapf(file.Close(), "closing plot file %q", path)
}
