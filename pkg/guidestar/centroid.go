package guidestar

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Centroid checks that usable signal is present around xyGuess and then
// locates the point of minimum radial asymmetry to sub-pixel precision.
//
// data holds pixel values in ADU; mask may be empty (no mask) or the same
// shape as data with nonzero marking invalid pixels. xyGuess and the
// returned center use xy positions (see PosMinusIndex). rad is the search
// radius in pixels, floored at MinRad and rounded to an integer.
//
// A non-nil error reports a caller contract violation only (bad inputs).
// Algorithmic failures - no signal, walking out of the search window,
// degenerate fits - come back as a CentroidData with IsOK=false, so a
// caller sweeping many candidate stars is never aborted by one bad star.
func Centroid(data, mask Mat, xyGuess Point2d, rad float64, ccd CCDInfo, params *CentroidParams) (CentroidData, error) {
	if err := checkInputs(data, mask, xyGuess); err != nil {
		return CentroidData{}, err
	}
	if params == nil {
		params = NewCentroidParams()
	}
	iRad := clampRad(rad)
	thresh := clampThresh(params.Thresh)

	stats, err := signalCheck(data, mask, xyGuess, iRad, thresh)
	if err != nil {
		return CentroidData{
			IsOK:    false,
			Msg:     "No signal",
			NSat:    -1,
			Rad:     iRad,
			ImStats: &stats,
		}, nil
	}

	cd, err := BasicCentroid(data, mask, xyGuess, rad, ccd, params)
	if err != nil {
		return cd, err
	}
	cd.ImStats = &stats
	return cd, nil
}

// BasicCentroid runs the centroid search without the signal check.
// See Centroid for conventions.
func BasicCentroid(data, mask Mat, xyGuess Point2d, rad float64, ccd CCDInfo, params *CentroidParams) (CentroidData, error) {
	if err := checkInputs(data, mask, xyGuess); err != nil {
		return CentroidData{}, err
	}
	if params == nil {
		params = NewCentroidParams()
	}
	iRad := clampRad(rad)

	cd, err := searchCentroid(data, mask, xyGuess, iRad, ccd, params.Log)
	if err != nil {
		return CentroidData{
			IsOK:  false,
			Msg:   err.Error(),
			NSat:  -1,
			Rad:   iRad,
			NIter: cd.NIter,
		}, nil
	}
	return cd, nil
}

// gridCell is one entry of the 3x3 asymmetry grid around the current best
// pixel. known distinguishes never-computed cells from computed ones so
// cells survive grid shifts without re-evaluation.
type gridCell struct {
	asymm  float64
	counts float64
	pts    int
	known  bool
}

func searchCentroid(data, mask Mat, xyGuess Point2d, rad int, ccd CCDInfo, log logrus.FieldLogger) (CentroidData, error) {
	cd := CentroidData{Rad: rad, NSat: -1}

	guessI, guessJ := IJIndFromXYPos(xyGuess)
	bestI, bestJ := guessI, guessJ
	radSq := rad * rad
	var grid [3][3]gridCell

	for {
		cd.NIter++
		if cd.NIter > maxCentroidIters {
			return cd, fmt.Errorf("no asymmetry minimum within %d iterations: %w", maxCentroidIters, ErrSearchBounds)
		}

		for gi := 0; gi < 3; gi++ {
			for gj := 0; gj < 3; gj++ {
				if grid[gi][gj].known {
					continue
				}
				a, c, n, err := radAsymmWeighted(data, mask, bestI+gi-1, bestJ+gj-1, rad,
					ccd.Bias, ccd.ReadNoise, ccd.CCDGain)
				if err != nil {
					return cd, err
				}
				grid[gi][gj] = gridCell{asymm: a, counts: c, pts: n, known: true}
			}
		}

		minGI, minGJ := 0, 0
		minAsymm := math.Inf(1)
		for gi := 0; gi < 3; gi++ {
			for gj := 0; gj < 3; gj++ {
				if grid[gi][gj].asymm < minAsymm {
					minAsymm = grid[gi][gj].asymm
					minGI, minGJ = gi, gj
				}
			}
		}

		if log != nil {
			log.WithFields(logrus.Fields{
				"iter":  cd.NIter,
				"bestI": bestI,
				"bestJ": bestJ,
				"min":   minAsymm,
			}).Debug("centroid grid step")
		}

		if minGI == 1 && minGJ == 1 {
			break
		}

		bestI += minGI - 1
		bestJ += minGJ - 1
		walkI := bestI - guessI
		walkJ := bestJ - guessJ
		if walkI*walkI+walkJ*walkJ >= radSq {
			return cd, fmt.Errorf("no star within %d pixels of the guess: %w", rad, ErrSearchBounds)
		}
		grid = shiftGrid(grid, minGI-1, minGJ-1)
	}

	// Separable parabolic fit through the center row and column; the
	// diagonals are deliberately excluded.
	// y(x) = ymin + a(x-xmin)^2, a = (y0-2y1+y2)/2, xmin = -b/2a, b = (y2-y0)/2.
	ai := 0.5 * (grid[2][1].asymm - 2*grid[1][1].asymm + grid[0][1].asymm)
	bi := 0.5 * (grid[2][1].asymm - grid[0][1].asymm)
	aj := 0.5 * (grid[1][2].asymm - 2*grid[1][1].asymm + grid[1][0].asymm)
	bj := 0.5 * (grid[1][2].asymm - grid[1][0].asymm)
	if ai == 0 || aj == 0 {
		return cd, fmt.Errorf("flat asymmetry parabola: %w", ErrDegenerateFit)
	}
	di := -0.5 * bi / ai
	dj := -0.5 * bj / aj
	cd.XYCtr = XYPosFromIJPos(float64(bestI)+di, float64(bestJ)+dj)

	// Crude error estimate: the parabola curvature converts the center
	// asymmetry into a position variance. Known to be rough; kept as is.
	asymmCtr := grid[1][1].asymm
	iErrSq := asymmCtr / ai
	jErrSq := asymmCtr / aj
	if iErrSq < 0 || jErrSq < 0 {
		return cd, fmt.Errorf("negative position variance: %w", ErrDegenerateFit)
	}
	cd.XYErr = Point2d{X: math.Sqrt(jErrSq), Y: math.Sqrt(iErrSq)}
	cd.Asymm = asymmCtr
	cd.Pix = grid[1][1].pts
	cd.Counts = grid[1][1].counts

	if ccd.HasSatLevel() {
		cd.NSat = countSaturated(data, mask, cd.XYCtr, rad, ccd.SatLevel)
	}
	cd.IsOK = true
	return cd, nil
}

// shiftGrid rebuilds the 3x3 grids after the best pixel moved by (si, sj),
// carrying over every still-valid cell. Cells shifted in from outside stay
// unknown and are recomputed on the next pass.
func shiftGrid(old [3][3]gridCell, si, sj int) [3][3]gridCell {
	var out [3][3]gridCell
	for gi := 0; gi < 3; gi++ {
		for gj := 0; gj < 3; gj++ {
			oi, oj := gi+si, gj+sj
			if oi >= 0 && oi < 3 && oj >= 0 && oj < 3 {
				out[gi][gj] = old[oi][oj]
			}
		}
	}
	return out
}

// countSaturated counts unmasked pixels at or above satLevel within a disk
// of the search radius around the refined center.
func countSaturated(data, mask Mat, xyCtr Point2d, rad int, satLevel float64) int {
	sub := subFrameCtr(data, xyCtr, rad+1)
	if sub.Data.Empty() {
		return 0
	}
	defer sub.Close()

	useMask := !mask.Empty()
	var subMask Subframe
	if useMask {
		subMask = subFrameCtr(mask, xyCtr, rad+1)
		defer subMask.Close()
	}

	pi, pj := IJPosFromXYPos(xyCtr)
	ci, cj := sub.SubIJFromFullIJ(pi, pj)
	radSq := float64(rad * rad)
	sat := float32(satLevel)

	n := 0
	for i := 0; i < sub.Data.Rows(); i++ {
		for j := 0; j < sub.Data.Cols(); j++ {
			di := float64(i) - ci
			dj := float64(j) - cj
			if di*di+dj*dj > radSq {
				continue
			}
			if useMask && subMask.Data.At(i, j) != 0 {
				continue
			}
			if sub.Data.At(i, j) >= sat {
				n++
			}
		}
	}
	return n
}

func checkInputs(data, mask Mat, xy Point2d) error {
	if data.Empty() {
		return fmt.Errorf("empty data frame")
	}
	if !mask.Empty() && (mask.Rows() != data.Rows() || mask.Cols() != data.Cols()) {
		return fmt.Errorf("mask shape %dx%d does not match data shape %dx%d",
			mask.Rows(), mask.Cols(), data.Rows(), data.Cols())
	}
	if math.IsNaN(xy.X) || math.IsNaN(xy.Y) || math.IsInf(xy.X, 0) || math.IsInf(xy.Y, 0) {
		return fmt.Errorf("non-finite position (%g, %g)", xy.X, xy.Y)
	}
	return nil
}

func clampRad(rad float64) int {
	return int(math.Round(math.Max(rad, MinRad)))
}
