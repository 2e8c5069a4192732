//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"

	gs "guidestar/pkg/guidestar"
)

func loadNonFitsImage(path string) (gs.Mat, error) {
	src := gocv.IMRead(path, gocv.IMReadUnchanged)
	if src.Empty() {
		return gs.Mat{}, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if src.Channels() > 1 {
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	} else {
		src.CopyTo(&gray)
	}

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	gray.ConvertTo(&floatMat, gocv.MatTypeCV32F)

	w, h := floatMat.Cols(), floatMat.Rows()
	data, err := floatMat.DataPtrFloat32()
	if err != nil {
		return gs.Mat{}, fmt.Errorf("reading pixel data: %w", err)
	}
	pix := make([]float64, w*h)
	for i := range pix {
		pix[i] = float64(data[i])
	}
	return gs.MatFromFloat64(pix, w, h), nil
}
