package guidestar

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MatFromUint16 builds a Mat from a row-major uint16 pixel slice in ADU.
func MatFromUint16(pixels []uint16, width, height int) Mat {
	m := NewMatWithSize(height, width)
	for i := 0; i < height; i++ {
		for j := 0; j < width; j++ {
			m.Set(i, j, float32(pixels[i*width+j]))
		}
	}
	return m
}

// MatFromFloat64 builds a Mat from a row-major float64 pixel slice in ADU.
func MatFromFloat64(pixels []float64, width, height int) Mat {
	m := NewMatWithSize(height, width)
	for i := 0; i < height; i++ {
		for j := 0; j < width; j++ {
			m.Set(i, j, float32(pixels[i*width+j]))
		}
	}
	return m
}

// IJPosFromXYPos converts an xy position to the fractional ij position
// (row, column) of the same point.
func IJPosFromXYPos(xy Point2d) (float64, float64) {
	return xy.Y - PosMinusIndex, xy.X - PosMinusIndex
}

// IJIndFromXYPos converts an xy position to the index of the containing
// pixel: anywhere within a pixel selects that pixel.
func IJIndFromXYPos(xy Point2d) (int, int) {
	i, j := IJPosFromXYPos(xy)
	return int(math.Floor(i + 0.5)), int(math.Floor(j + 0.5))
}

// XYPosFromIJPos converts a fractional ij position back to an xy position.
func XYPosFromIJPos(i, j float64) Point2d {
	return Point2d{X: j + PosMinusIndex, Y: i + PosMinusIndex}
}

// Subframe is an owned copy of a window of a larger frame, centered on a
// requested pixel, together with the offset mapping window indices back to
// full-frame indices.
type Subframe struct {
	Data Mat

	// MinI, MinJ are the full-frame indices of Data[0, 0].
	MinI, MinJ int
}

// subFrameCtr extracts a square window of half width hw centered on the
// pixel containing xyCtr. A window that would exceed the frame is clipped
// symmetrically on the offending axis so the center pixel stays centered.
// The returned Subframe is empty when the center lies outside the frame.
func subFrameCtr(data Mat, xyCtr Point2d, hw int) Subframe {
	ci, cj := IJIndFromXYPos(xyCtr)
	rows, cols := data.Rows(), data.Cols()
	if ci < 0 || ci >= rows || cj < 0 || cj >= cols {
		return Subframe{}
	}
	hwI := minInt(hw, minInt(ci, rows-1-ci))
	hwJ := minInt(hw, minInt(cj, cols-1-cj))

	r := data.Region(image.Rect(cj-hwJ, ci-hwI, cj+hwJ+1, ci+hwI+1))
	sub := r.Clone()
	r.Close()
	return Subframe{Data: sub, MinI: ci - hwI, MinJ: cj - hwJ}
}

// SubIJFromFullIJ maps a fractional full-frame ij position into the window.
func (s Subframe) SubIJFromFullIJ(i, j float64) (float64, float64) {
	return i - float64(s.MinI), j - float64(s.MinJ)
}

// Close releases the window's pixel data.
func (s *Subframe) Close() {
	s.Data.Close()
}

// skyStats returns the median and standard deviation of a pixel set.
// The input slice is sorted in place.
func skyStats(pixels []float64) (med, stdDev float64) {
	if len(pixels) == 0 {
		return math.NaN(), math.NaN()
	}
	sort.Float64s(pixels)
	med = stat.Quantile(0.5, stat.Empirical, pixels, nil)
	stdDev = stat.StdDev(pixels, nil)
	return med, stdDev
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
