package guidestar

import (
	"fmt"
	"math"
)

// signalCheck decides whether the region around xyGuess holds a detectable
// star before the centroid walk is run. Background statistics come from the
// pixels outside a circle of the search radius and inside a box extending
// outerRadAdd pixels further. Signal is declared when, after replacing
// masked pixels with the background median and median-smoothing, at least
// one 8-connected blob of pixels above the cut level spans two or more
// pixels on both axes; a lone hot pixel or a one-pixel-wide streak does not
// qualify.
//
// The computed ImStats are returned even when the check fails, so the
// caller can attach them to the failed result.
func signalCheck(data, mask Mat, xyGuess Point2d, rad int, thresh float64) (ImStats, error) {
	outerRad := rad + outerRadAdd
	stats := ImStats{Rad: rad, OuterRad: outerRad, Thresh: thresh}

	sub := subFrameCtr(data, xyGuess, outerRad)
	if sub.Data.Empty() {
		return stats, fmt.Errorf("guess (%g, %g) outside frame: %w", xyGuess.X, xyGuess.Y, ErrNoSignal)
	}
	defer sub.Close()

	useMask := !mask.Empty()
	var subMask Subframe
	if useMask {
		subMask = subFrameCtr(mask, xyGuess, outerRad)
		defer subMask.Close()
	}

	gi, gj := IJPosFromXYPos(xyGuess)
	ci, cj := sub.SubIJFromFullIJ(gi, gj)
	radSq := float64(rad * rad)
	rows, cols := sub.Data.Rows(), sub.Data.Cols()

	bkgPixels := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if useMask && subMask.Data.At(i, j) != 0 {
				continue
			}
			di := float64(i) - ci
			dj := float64(j) - cj
			if di*di+dj*dj > radSq {
				bkgPixels = append(bkgPixels, float64(sub.Data.At(i, j)))
			}
		}
	}
	if len(bkgPixels) < 2 {
		return stats, fmt.Errorf("no background pixels around (%g, %g): %w", xyGuess.X, xyGuess.Y, ErrNoSignal)
	}
	med, stdDev := skyStats(bkgPixels)
	dataCut := med + thresh*stdDev
	stats.Med = med
	stats.StdDev = stdDev
	stats.DataCut = dataCut

	// Median-smooth the inner disk with everything else pinned at the
	// background level, so single-pixel spikes cannot pass the cut.
	smoothed := NewMatWithSize(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			di := float64(i) - ci
			dj := float64(j) - cj
			inner := di*di+dj*dj <= radSq
			masked := useMask && subMask.Data.At(i, j) != 0
			if inner && !masked {
				smoothed.Set(i, j, sub.Data.At(i, j))
			} else {
				smoothed.Set(i, j, float32(med))
			}
		}
	}
	filtered := NewMat()
	medianBlur(smoothed, &filtered, 3)
	smoothed.Close()
	defer filtered.Close()

	above := make([]bool, rows*cols)
	anyAbove := false
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if float64(filtered.At(i, j)) > dataCut {
				above[i*cols+j] = true
				anyAbove = true
			}
		}
	}
	if anyAbove && hasWideBlob(above, rows, cols) {
		return stats, nil
	}
	return stats, ErrNoSignal
}

// hasWideBlob reports whether any 8-connected component of set pixels spans
// at least 2 pixels along both axes.
func hasWideBlob(above []bool, rows, cols int) bool {
	visited := make([]bool, len(above))
	stack := make([]int, 0, 64)

	for seed := range above {
		if !above[seed] || visited[seed] {
			continue
		}
		minI, maxI := rows, -1
		minJ, maxJ := cols, -1
		stack = append(stack[:0], seed)
		visited[seed] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pi, pj := p/cols, p%cols
			if pi < minI {
				minI = pi
			}
			if pi > maxI {
				maxI = pi
			}
			if pj < minJ {
				minJ = pj
			}
			if pj > maxJ {
				maxJ = pj
			}
			for di := -1; di <= 1; di++ {
				for dj := -1; dj <= 1; dj++ {
					ni, nj := pi+di, pj+dj
					if ni < 0 || ni >= rows || nj < 0 || nj >= cols {
						continue
					}
					q := ni*cols + nj
					if above[q] && !visited[q] {
						visited[q] = true
						stack = append(stack, q)
					}
				}
			}
		}
		if maxI-minI+1 >= 2 && maxJ-minJ+1 >= 2 {
			return true
		}
	}
	return false
}

// clampThresh applies the MinThresh floor.
func clampThresh(thresh float64) float64 {
	return math.Max(MinThresh, thresh)
}
