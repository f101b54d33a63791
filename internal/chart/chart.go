// Package chart renders the aggregated stage time series as a PNG line chart.
package chart

import (
	"errors"
	"fmt"
	"io"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/cagesim/internal/engine"
	"github.com/talgya/cagesim/internal/world"
)

// ErrTooFewSamples is returned when there is not enough data to draw a line.
var ErrTooFewSamples = errors.New("chart needs at least two samples")

// Options controls the rendered image.
type Options struct {
	Width  int
	Height int
	Title  string
}

// DefaultOptions returns a 1280x400 untitled chart.
func DefaultOptions() Options {
	return Options{Width: 1280, Height: 400}
}

var stageColors = [...]drawing.Color{
	{R: 70, G: 130, B: 220, A: 255}, // Susceptible
	gochart.ColorRed,                // Infected
	gochart.ColorGreen,              // Recovered
	{R: 90, G: 90, B: 90, A: 255},   // Dead
}

// Render writes one line per disease stage over sim time to w as PNG.
func Render(w io.Writer, samples []world.Sample, opts Options) error {
	if len(samples) < 2 {
		return fmt.Errorf("%d samples: %w", len(samples), ErrTooFewSamples)
	}

	xs := make([]float64, len(samples))
	ys := make([][]float64, 4)
	for i := range ys {
		ys[i] = make([]float64, len(samples))
	}
	for i, s := range samples {
		xs[i] = s.Time
		ys[0][i] = float64(s.Susceptible)
		ys[1][i] = float64(s.Infected)
		ys[2][i] = float64(s.Recovered)
		ys[3][i] = float64(s.Dead)
	}

	names := [...]string{"Susceptible", "Infected", "Recovered", "Dead"}
	series := make([]gochart.Series, 0, len(names))
	for i, name := range names {
		series = append(series, gochart.ContinuousSeries{
			Name:    name,
			XValues: xs,
			YValues: ys[i],
			Style:   gochart.Style{StrokeColor: stageColors[i], StrokeWidth: 3.0},
		})
	}

	graph := gochart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 30, Left: 20, Right: 20, Bottom: 10},
		},
		XAxis: gochart.XAxis{
			Name:  "time",
			Style: gochart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return engine.SimTime(f)
				}
				return ""
			},
		},
		YAxis: gochart.YAxis{
			Name:  "agents",
			Style: gochart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%d", int(f))
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}

	if err := graph.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
