// Layout generation using simplex noise.
// Divides the viewport into a grid, scores every cell with noise, and turns
// the best cells into regions chained together by flows.
package world

import (
	"fmt"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// LayoutConfig holds layout generation parameters.
type LayoutConfig struct {
	Seed        int64   // Random seed (0 = random)
	Columns     int     // Grid columns across the viewport
	Rows        int     // Grid rows down the viewport
	Margin      float64 // Gap between a region and its cell edge
	Threshold   float64 // Noise level a cell needs to host a region (0.0-1.0)
	MinRegions  int     // Best cells are taken regardless of threshold until this many exist
	MinCapacity int
	MaxCapacity int
	FlowAmount  int // Agents per chained flow; 0 disables flows
	Frequency   float64
}

// DefaultLayoutConfig returns a reasonable starting configuration.
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		Columns:     4,
		Rows:        3,
		Margin:      20,
		Threshold:   0.45,
		MinRegions:  2,
		MinCapacity: 50,
		MaxCapacity: 200,
		FlowAmount:  10,
		Frequency:   0.8,
	}
}

// GenerateLayout creates a placement-valid topology for a viewport of the
// given size.
func GenerateLayout(cfg LayoutConfig, viewportW, viewportH float64) (Topology, error) {
	if cfg.Columns <= 0 || cfg.Rows <= 0 {
		return Topology{}, fmt.Errorf("layout grid %dx%d must be positive", cfg.Columns, cfg.Rows)
	}
	cellW := viewportW / float64(cfg.Columns)
	cellH := viewportH / float64(cfg.Rows)
	if cfg.Margin <= 0 || 2*cfg.Margin >= cellW || 2*cfg.Margin >= cellH {
		return Topology{}, fmt.Errorf("layout margin %g does not fit cells of %gx%g", cfg.Margin, cellW, cellH)
	}
	if cfg.MinCapacity < 0 || cfg.MaxCapacity < cfg.MinCapacity {
		return Topology{}, fmt.Errorf("layout capacity range [%d, %d] is invalid", cfg.MinCapacity, cfg.MaxCapacity)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	noise := opensimplex.NewNormalized(seed)

	type scored struct {
		col, row int
		score    float64
	}
	candidates := make([]scored, 0, cfg.Columns*cfg.Rows)
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Columns; col++ {
			v := noise.Eval2(float64(col)*cfg.Frequency, float64(row)*cfg.Frequency)
			candidates = append(candidates, scored{col, row, v})
		}
	}

	// Best cells first; ties broken by grid position so output is stable.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var chosen []scored
	for _, c := range candidates {
		if c.score >= cfg.Threshold || len(chosen) < cfg.MinRegions {
			chosen = append(chosen, c)
		}
	}

	// Reading order makes the flow chain walk across the viewport.
	sort.Slice(chosen, func(i, j int) bool {
		if chosen[i].row != chosen[j].row {
			return chosen[i].row < chosen[j].row
		}
		return chosen[i].col < chosen[j].col
	})

	var t Topology
	for _, c := range chosen {
		capacity := cfg.MinCapacity + int(c.score*float64(cfg.MaxCapacity-cfg.MinCapacity))
		t.Regions = append(t.Regions, RegionSpec{
			Name:     fmt.Sprintf("cage-%d-%d", c.col, c.row),
			X:        float64(c.col)*cellW + cfg.Margin,
			Y:        float64(c.row)*cellH + cfg.Margin,
			Width:    cellW - 2*cfg.Margin,
			Height:   cellH - 2*cfg.Margin,
			Capacity: capacity,
		})
	}

	if cfg.FlowAmount > 0 {
		for i := 0; i+1 < len(t.Regions); i++ {
			amount := cfg.FlowAmount
			if amount > t.Regions[i].Capacity {
				amount = t.Regions[i].Capacity
			}
			if amount == 0 {
				continue
			}
			t.Flows = append(t.Flows, Flow{
				Source:      t.Regions[i].Name,
				Destination: t.Regions[i+1].Name,
				Amount:      amount,
			})
		}
	}

	return t, nil
}
