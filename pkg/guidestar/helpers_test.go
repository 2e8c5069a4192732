package guidestar

import "math"

// starValue evaluates the double gaussian star model at radius squared rsq
// for a star of the given FWHM, as height above background in units of the
// peak main-gaussian amplitude.
func starValue(rsq, fwhm float64) float64 {
	x := -0.5 * rsq * wpFromFWHM(fwhm)
	return math.Exp(x) + 0.1*math.Exp(0.25*x)
}

// starFrame synthesizes a noiseless frame holding one double gaussian star.
// xyCtr uses xy positions; ampl is the peak height of the main gaussian
// above bkgnd.
func starFrame(rows, cols int, xyCtr Point2d, fwhm, ampl, bkgnd float64) Mat {
	m := NewMatWithSize(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			pos := XYPosFromIJPos(float64(i), float64(j))
			dx := pos.X - xyCtr.X
			dy := pos.Y - xyCtr.Y
			m.Set(i, j, float32(bkgnd+ampl*starValue(dx*dx+dy*dy, fwhm)))
		}
	}
	return m
}

// ringStarFrame synthesizes a star whose pixel values depend only on the
// integer radial bin of the pixel, so every radial bin mean equals the
// model exactly. The star sits on the center of pixel (ci, cj).
func ringStarFrame(rows, cols, ci, cj int, fwhm, ampl, bkgnd float64) Mat {
	m := NewMatWithSize(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			di := i - ci
			dj := j - cj
			bin := int(math.Sqrt(float64(di*di+dj*dj)) + 0.5)
			rsq := float64(bin * bin)
			m.Set(i, j, float32(bkgnd+ampl*starValue(rsq, fwhm)))
		}
	}
	return m
}

// gaussianFrame synthesizes a noiseless frame holding one plain symmetric
// gaussian star, without the halo component of the double gaussian model.
func gaussianFrame(rows, cols int, xyCtr Point2d, fwhm, ampl, bkgnd float64) Mat {
	m := NewMatWithSize(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			pos := XYPosFromIJPos(float64(i), float64(j))
			dx := pos.X - xyCtr.X
			dy := pos.Y - xyCtr.Y
			rsq := dx*dx + dy*dy
			m.Set(i, j, float32(bkgnd+ampl*math.Exp(-0.5*rsq*wpFromFWHM(fwhm))))
		}
	}
	return m
}

// annulusStarFrame synthesizes a star whose pixel values depend only on the
// two-pixel annulus of the pixel, so every annulus is exactly constant. The
// star sits on the center of pixel (ci, cj).
func annulusStarFrame(rows, cols, ci, cj int, ampl, bkgnd float64) Mat {
	m := NewMatWithSize(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			di := i - ci
			dj := j - cj
			bin := int(math.Sqrt(float64(di*di+dj*dj))/2 + 0.5)
			m.Set(i, j, float32(bkgnd+ampl/float64(1+bin*bin)))
		}
	}
	return m
}

// flatFrame synthesizes a constant frame.
func flatFrame(rows, cols int, level float64) Mat {
	m := NewMatWithSize(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, float32(level))
		}
	}
	return m
}

func testCCD() CCDInfo {
	return CCDInfo{Bias: 100, ReadNoise: 5, CCDGain: 2}
}

func absDiff(a, b float64) float64 {
	return math.Abs(a - b)
}

func nan() float64 {
	return math.NaN()
}
