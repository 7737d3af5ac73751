// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package nystagmus

import "math"

// iir holds normalized IIR filter coefficients (a[0] == 1).
type iir struct {
	b []float64
	a []float64
}

// butterLowpass2 designs a second-order Butterworth low-pass filter by
// bilinear transform of the analog prototype.
func butterLowpass2(cutoffHz, rateHz float64) iir {
	k := math.Tan(math.Pi * cutoffHz / rateHz)
	q := math.Sqrt2 / 2
	norm := 1 / (1 + k/q + k*k)
	b0 := k * k * norm
	return iir{
		b: []float64{b0, 2 * b0, b0},
		a: []float64{1, 2 * (k*k - 1) * norm, (1 - k/q + k*k) * norm},
	}
}

// butterLowpass1 designs a first-order Butterworth low-pass filter.
func butterLowpass1(cutoffHz, rateHz float64) iir {
	k := math.Tan(math.Pi * cutoffHz / rateHz)
	return iir{
		b: []float64{k / (1 + k), k / (1 + k)},
		a: []float64{1, (k - 1) / (k + 1)},
	}
}

// butterHighpass1 designs a first-order Butterworth high-pass filter.
func butterHighpass1(cutoffHz, rateHz float64) iir {
	k := math.Tan(math.Pi * cutoffHz / rateHz)
	return iir{
		b: []float64{1 / (1 + k), -1 / (1 + k)},
		a: []float64{1, (k - 1) / (k + 1)},
	}
}

// apply runs the filter over x in direct form II transposed.
func (f iir) apply(x []float64) []float64 {
	return f.applyFrom(x, make([]float64, len(f.a)-1))
}

// applyFrom runs the filter with the given initial internal state. The
// state slice is consumed.
func (f iir) applyFrom(x, state []float64) []float64 {
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := f.b[0]*xi + state[0]
		for s := 0; s < len(state); s++ {
			var next float64
			if s+1 < len(state) {
				next = state[s+1]
			}
			var bc float64
			if s+1 < len(f.b) {
				bc = f.b[s+1]
			}
			state[s] = next + bc*xi - f.a[s+1]*yi
		}
		y[i] = yi
	}
	return y
}

// steadyState returns the internal state that makes the filter start in
// steady state for a unit-step input, so a DC offset produces no startup
// transient. Scaled by the first padded sample before each pass.
func (f iir) steadyState() []float64 {
	switch len(f.a) - 1 {
	case 1:
		return []float64{(f.b[1] - f.a[1]*f.b[0]) / (1 + f.a[1])}
	case 2:
		c0 := f.b[1] - f.a[1]*f.b[0]
		c1 := f.b[2] - f.a[2]*f.b[0]
		det := 1 + f.a[1] + f.a[2]
		return []float64{(c0 + c1) / det, ((1+f.a[1])*c1 - f.a[2]*c0) / det}
	}
	return make([]float64, len(f.a)-1)
}

// filtfilt applies the filter forward and then backward, cancelling the
// phase shift so saccade timing is not displaced by the filtering. The
// input is extended at both ends by an odd reflection and each pass starts
// from the filter's steady state, so buffer edges do not ring: an edge
// transient on a velocity trace would read as a phantom saccade.
func filtfilt(f iir, x []float64) []float64 {
	if len(x) < 2 {
		return append([]float64(nil), x...)
	}
	padlen := 3 * len(f.a)
	if padlen > len(x)-1 {
		padlen = len(x) - 1
	}

	ext := make([]float64, 0, len(x)+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	last := len(x) - 1
	for i := 1; i <= padlen; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}

	zi := f.steadyState()
	state := make([]float64, len(zi))
	for i := range zi {
		state[i] = zi[i] * ext[0]
	}
	fwd := f.applyFrom(ext, state)

	reverse(fwd)
	for i := range zi {
		state[i] = zi[i] * fwd[0]
	}
	back := f.applyFrom(fwd, state)
	reverse(back)

	return back[padlen : padlen+len(x)]
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// findPeaks returns indices of strict local maxima of v that reach height,
// keeping only the tallest of any cluster closer together than distance
// samples. Taller peaks win ties, matching the usual peak-picking rule.
func findPeaks(v []float64, height float64, distance int) []int {
	var candidates []int
	for i := 1; i < len(v)-1; i++ {
		if v[i] > v[i-1] && v[i] >= v[i+1] && v[i] >= height {
			candidates = append(candidates, i)
		}
	}
	if distance <= 1 || len(candidates) < 2 {
		return candidates
	}

	// Sort candidates by height descending, then suppress any candidate
	// within distance of an already-accepted taller peak.
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && v[candidates[order[j]]] > v[candidates[order[j-1]]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	suppressed := make([]bool, len(candidates))
	var kept []int
	for _, oi := range order {
		if suppressed[oi] {
			continue
		}
		idx := candidates[oi]
		kept = append(kept, idx)
		for ci, cidx := range candidates {
			if cidx != idx && abs(cidx-idx) < distance {
				suppressed[ci] = true
			}
		}
	}

	// back to time order
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j] < kept[j-1]; j-- {
			kept[j], kept[j-1] = kept[j-1], kept[j]
		}
	}
	return kept
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
