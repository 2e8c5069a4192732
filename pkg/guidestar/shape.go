package guidestar

import (
	"fmt"
	"math"
	"sync"
)

// The star model is a symmetrical double gaussian: a main gaussian plus a
// second gaussian of 1/10 the amplitude and twice the sigma, accounting for
// the broad halo real seeing puts around a star. Widths are explored by
// walking a table of width parameters wp = 1/sigma^2 spanning
// FWHM = [1.0, 30.0) in steps of 0.25 pixels (index 0 is the widest star).

const (
	fwhmTableMin   = 1.0
	fwhmTableMax   = 30.0
	fwhmTableDelta = 0.25

	// Model profile quantization scale. The template is computed as
	// integers on this scale, so fit amplitudes are rescaled by it.
	dMax = 4096
)

var wpTable = sync.OnceValue(func() []float64 {
	nf := float64(fwhmTableMax-fwhmTableMin)/fwhmTableDelta + 0.5
	n := int(nf)
	arr := make([]float64, n)
	for ind := range arr {
		arr[ind] = wpFromFWHM(fwhmFromWPInd(float64(ind)))
	}
	return arr
})

// StarShape fits the double gaussian model to the radial profile of a star
// and reports its amplitude, background level, FWHM and fit chi square.
//
// xyCtr is the star center (normally from Centroid); rad is the radius of
// data to fit, floored at MinRad. predFWHM seeds the width search; pass a
// non-positive or NaN value to use the default of rad. The results are not
// very sensitive to predFWHM, but a far too small prediction can spoil the
// fit.
//
// On failure the returned StarShapeData has every field NaN and the error
// describes the failure.
func StarShape(data, mask Mat, xyCtr Point2d, rad float64, predFWHM float64) (StarShapeData, error) {
	if err := checkInputs(data, mask, xyCtr); err != nil {
		return NewStarShapeData(), err
	}
	iRad := clampRad(rad)

	ci, cj := IJIndFromXYPos(xyCtr)
	pi, pj := IJPosFromXYPos(xyCtr)
	offI := math.Abs(math.Round(pi) - pi)
	offJ := math.Abs(math.Round(pj) - pj)
	offSq := offI*offI + offJ*offJ

	prof, _, nPts, err := radProf(data, mask, ci, cj, iRad)
	if err != nil {
		return NewStarShapeData(), err
	}

	if math.IsNaN(predFWHM) || predFWHM <= 0 {
		predFWHM = float64(iRad)
	}
	sd, err := fitRadProfile(prof, nPts, predFWHM)
	if err != nil {
		return NewStarShapeData(), err
	}

	// The measured profile of a star whose center is offset by d from the
	// center of the extraction pixel is wider than the true profile:
	// sigma_meas^2 = sigma^2 + d^2/2. Subtract the offset term to recover
	// the true width. Negligible except for extremely compact stars.
	rawSig := sd.FWHM / FWHMPerSigma
	corrSigSq := rawSig*rawSig - 0.5*offSq
	if corrSigSq <= 0 {
		return NewStarShapeData(), fmt.Errorf("off-center width correction exceeds fit width: %w", ErrDegenerateFit)
	}
	sd.FWHM = math.Sqrt(corrSigSq) * FWHMPerSigma
	return sd, nil
}

// fitRadProfile walks the width parameter table to minimize chi square,
// solving for amplitude and background at each trial width, then refines
// the width by a parabolic fit through the three chi square values around
// the minimum and re-solves at the refined width.
func fitRadProfile(prof []float64, nPts []int, predFWHM float64) (StarShapeData, error) {
	wpArr := wpTable()
	ncell := len(wpArr)
	chiSqByWPInd := make([]float64, ncell)
	npt := len(prof)

	// Start at least one cell from either edge so the first step is safe
	// in both directions.
	wpInd := int(wpIndFromFWHM(predFWHM) + 0.5)
	if wpInd < 1 {
		wpInd = 1
	}
	if wpInd > ncell-2 {
		wpInd = ncell - 2
	}

	radSq := radSqByRadInd(npt)
	seeProf := make([]float64, npt)
	sumNPts := 0.0
	sumRadProf := 0.0
	for b := 0; b < npt; b++ {
		sumNPts += float64(nPts[b])
		sumRadProf += float64(nPts[b]) * prof[b]
	}

	iterNum := 0
	direc := 1
	for {
		_, _, chiSq, err := fitIter(prof, nPts, radSq, seeProf, sumNPts, sumRadProf, wpArr[wpInd])
		if err != nil {
			return NewStarShapeData(), err
		}
		chiSqByWPInd[wpInd] = chiSq

		passedMin := false
		switch {
		case iterNum == 0:
			wpInd += direc
		case iterNum == 1:
			// Assume chi square is monotonic near a reasonable first
			// guess and infer the downhill direction from the first pair.
			if chiSqByWPInd[wpInd] > chiSqByWPInd[wpInd-direc] {
				wpInd -= 2 * direc
				direc = -direc
			} else {
				wpInd += direc
			}
		default:
			if chiSqByWPInd[wpInd] > chiSqByWPInd[wpInd-direc] {
				// passed the minimum; back up and refine
				wpInd -= direc
				passedMin = true
			} else {
				wpInd += direc
			}
		}
		if passedMin {
			break
		}
		if wpInd < 0 || wpInd >= ncell {
			return NewStarShapeData(), fmt.Errorf("width search walked off the table at index %d: %w", wpInd, ErrSearchBounds)
		}
		iterNum++
	}

	b := 0.5 * (chiSqByWPInd[wpInd+1] - chiSqByWPInd[wpInd-1])
	a := 0.5 * (chiSqByWPInd[wpInd+1] - 2*chiSqByWPInd[wpInd] + chiSqByWPInd[wpInd-1])
	if a == 0 {
		return NewStarShapeData(), fmt.Errorf("flat chi square parabola: %w", ErrDegenerateFit)
	}
	wpIndMin := float64(wpInd) - 0.5*b/a
	fwhmMin := fwhmFromWPInd(wpIndMin)
	wpMin := wpFromFWHM(fwhmMin)

	// final amplitude, background and chi square at the refined width
	ampl, bkgnd, chiSq, err := fitIter(prof, nPts, radSq, seeProf, sumNPts, sumRadProf, wpMin)
	if err != nil {
		return NewStarShapeData(), err
	}
	return StarShapeData{
		Ampl:  ampl * dMax,
		FWHM:  fwhmMin,
		Bkgnd: bkgnd,
		ChiSq: chiSq,
	}, nil
}

// fitIter solves the linear least squares problem
// prof(rad) = bkgnd + ampl*seeProf(rad) for one trial width parameter,
// weighting each radial bin by its pixel count. seeProf is a scratch buffer
// reused across calls.
func fitIter(prof []float64, nPts []int, radSq, seeProf []float64, sumNPts, sumRadProf, wp float64) (ampl, bkgnd, chiSq float64, err error) {
	fillSeeProf(seeProf, radSq, wp)

	var sumSeeProf, sumSeeProfSq, sumSeeProfRadProf float64
	for b := range prof {
		ns := float64(nPts[b]) * seeProf[b]
		sumSeeProf += ns
		sumSeeProfSq += ns * seeProf[b]
		sumSeeProfRadProf += ns * prof[b]
	}

	disc := sumNPts*sumSeeProfSq - sumSeeProf*sumSeeProf
	if disc == 0 {
		return 0, 0, 0, fmt.Errorf("singular profile fit: %w", ErrDegenerateFit)
	}
	ampl = (sumNPts*sumSeeProfRadProf - sumRadProf*sumSeeProf) / disc
	bkgnd = (sumSeeProfSq*sumRadProf - sumSeeProf*sumSeeProfRadProf) / disc

	for b := range prof {
		diff := prof[b] - ampl*seeProf[b] - bkgnd
		chiSq += float64(nPts[b]) * diff * diff
	}
	chiSq /= sumNPts
	return ampl, bkgnd, chiSq, nil
}

// fillSeeProf evaluates the double gaussian template at each radial bin,
// quantized to integers on the dMax scale. The normalization puts the
// template peak at its maximum representable value: at r=0 the two
// gaussians sum to 1.1.
func fillSeeProf(seeProf, radSq []float64, wp float64) {
	const norm = float64(dMax) / 1.1
	for ind := range seeProf {
		x := -0.5 * radSq[ind] * wp
		seeProf[ind] = math.Trunc(norm*(math.Exp(x)+0.1*math.Exp(0.25*x)) + 0.5)
	}
}

// fwhmFromWP converts a width parameter (1/sigma^2) to FWHM in pixels.
func fwhmFromWP(wp float64) float64 {
	return FWHMPerSigma / math.Sqrt(wp)
}

// wpFromFWHM converts FWHM in pixels to a width parameter (1/sigma^2).
func wpFromFWHM(fwhm float64) float64 {
	r := FWHMPerSigma / fwhm
	return r * r
}

// fwhmFromWPInd converts a (possibly fractional) table index to FWHM.
func fwhmFromWPInd(wpInd float64) float64 {
	return fwhmTableMax - fwhmTableDelta*wpInd
}

// wpIndFromFWHM converts FWHM to the nearest fractional table index.
func wpIndFromFWHM(fwhm float64) float64 {
	return (fwhmTableMax - fwhm) / fwhmTableDelta
}
