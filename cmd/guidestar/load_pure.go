//go:build purego || js

package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/tiff"

	gs "guidestar/pkg/guidestar"
)

func loadNonFitsImage(path string) (gs.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gs.Mat{}, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return gs.Mat{}, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// grayscale luminance in the uint16 range
			gray := (19595*r + 38470*g + 7471*b + 1<<15) >> 16
			pix[y*w+x] = float64(gray)
		}
	}
	return gs.MatFromFloat64(pix, w, h), nil
}
