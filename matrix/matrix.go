// Package matrix implements a dense, row-major N-dimensional tensor of
// float64 with per-axis labels, used for signal buffers and test
// vectors throughout acqd.
package matrix

import (
	"fmt"
	"math"
)

// Matrix is a dense row-major buffer plus per-axis sizes and labels.
type Matrix struct {
	buffer    []float64
	dimSizes  []int
	dimLabels [][]string
}

// New allocates a Matrix with the given per-axis sizes. Labels start
// empty for every axis.
func New(dimSizes ...int) *Matrix {
	m := &Matrix{}
	m.Resize(dimSizes...)
	return m
}

// Resize discards content and reshapes the matrix to the given sizes.
func (m *Matrix) Resize(dimSizes ...int) {
	m.dimSizes = append([]int(nil), dimSizes...)
	total := 1
	for _, d := range dimSizes {
		total *= d
	}
	if total < 0 {
		total = 0
	}
	m.buffer = make([]float64, total)
	m.dimLabels = make([][]string, len(dimSizes))
	for i, d := range dimSizes {
		m.dimLabels[i] = make([]string, d)
	}
}

// DimCount returns the number of axes.
func (m *Matrix) DimCount() int { return len(m.dimSizes) }

// DimSize returns the size of axis i.
func (m *Matrix) DimSize(i int) int { return m.dimSizes[i] }

// SetDimLabel sets the label of index j on axis i.
func (m *Matrix) SetDimLabel(i, j int, label string) {
	m.dimLabels[i][j] = label
}

// DimLabel returns the label of index j on axis i.
func (m *Matrix) DimLabel(i, j int) string {
	return m.dimLabels[i][j]
}

// Buffer returns the live backing slice, channel-major (axis 0 is the
// slowest-varying index).
func (m *Matrix) Buffer() []float64 { return m.buffer }

// ElementCount returns the total number of elements.
func (m *Matrix) ElementCount() int { return len(m.buffer) }

// CopyDescription copies src's shape and labels into m, discarding
// m's content (reallocates the buffer to match).
func (m *Matrix) CopyDescription(src *Matrix) {
	m.dimSizes = append([]int(nil), src.dimSizes...)
	m.dimLabels = make([][]string, len(src.dimLabels))
	for i, labels := range src.dimLabels {
		m.dimLabels[i] = append([]string(nil), labels...)
	}
	m.buffer = make([]float64, src.ElementCount())
}

// CopyContent copies src's buffer into m's. Requires equal element
// count; returns an error otherwise.
func (m *Matrix) CopyContent(src *Matrix) error {
	if src.ElementCount() != m.ElementCount() {
		return fmt.Errorf("matrix: element count mismatch: dst=%d src=%d", m.ElementCount(), src.ElementCount())
	}
	copy(m.buffer, src.buffer)
	return nil
}

// IsBufferValid reports whether every element passes the requested
// sanity checks. Used on test vectors, not on the hot path (NaN
// handling in the pipeline goes through the configured NaN policy,
// not this check).
func (m *Matrix) IsBufferValid(checkNaN, checkInf bool) bool {
	for _, v := range m.buffer {
		if checkNaN && math.IsNaN(v) {
			return false
		}
		if checkInf && math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
