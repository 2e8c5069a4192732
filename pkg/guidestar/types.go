package guidestar

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

const (
	// MinRad is the smallest usable search radius in pixels; smaller
	// requests are silently treated as MinRad.
	MinRad = 3.0

	// MinThresh is the floor for the detection threshold multiplier;
	// smaller values are silently increased.
	MinThresh = 1.5

	// PosMinusIndex relates a continuous xy position to an integer pixel
	// index: the center of pixel [i,j] is at position (j+PosMinusIndex,
	// i+PosMinusIndex).
	PosMinusIndex = 0.5

	// outerRadAdd is added to the search radius to size the background box
	// used by the signal check.
	outerRadAdd = 10

	// maxCentroidIters bounds the centroid grid walk.
	maxCentroidIters = 40
)

// FWHMPerSigma converts a gaussian sigma to its full width at half maximum.
var FWHMPerSigma = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// Failure classes surfaced in CentroidData.Msg and wrapped by the errors
// returned from the shape fitter. Match with errors.Is.
var (
	ErrNoSignal      = errors.New("no signal")
	ErrSearchBounds  = errors.New("search left bounds")
	ErrDegenerateFit = errors.New("degenerate fit")
)

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X, Y float64
}

// CCDInfo is an immutable description of the detector.
type CCDInfo struct {
	Bias      float64 // bias level (ADU)
	ReadNoise float64 // read noise (e-)
	CCDGain   float64 // inverse gain (e-/ADU)
	SatLevel  float64 // saturation level (ADU); <= 0 or NaN means unknown
}

// HasSatLevel reports whether a usable saturation level is configured.
func (c CCDInfo) HasSatLevel() bool {
	return c.SatLevel > 0 && !math.IsNaN(c.SatLevel)
}

func (c CCDInfo) String() string {
	return fmt.Sprintf("{Bias=%g, ReadNoise=%g, CCDGain=%g, SatLevel=%g}",
		c.Bias, c.ReadNoise, c.CCDGain, c.SatLevel)
}

// ImStats describes the background of the region around a star: the median
// and standard deviation of pixels outside a circle of radius Rad and inside
// a box of half width OuterRad, and the detection cut derived from them.
type ImStats struct {
	Rad      int
	OuterRad int
	Thresh   float64
	Med      float64
	StdDev   float64
	DataCut  float64
}

func (s ImStats) String() string {
	return fmt.Sprintf("{Rad=%d, OuterRad=%d, Thresh=%g, Med=%f, StdDev=%f, DataCut=%f}",
		s.Rad, s.OuterRad, s.Thresh, s.Med, s.StdDev, s.DataCut)
}

// CentroidData is the outcome of a centroid search.
//
// Check IsOK before using any other field: when it is false only Msg, Rad,
// NIter and ImStats are meaningful and Msg says what went wrong.
//
// Asymm, Pix and Counts are computed for the radial profile centered on the
// pixel nearest the centroid, not on the sub-pixel centroid itself.
type CentroidData struct {
	IsOK bool
	Msg  string

	// NSat is the number of saturated pixels near the centroid;
	// -1 if no saturation level was configured.
	NSat int

	// Rad is the integer search radius actually used.
	Rad int

	// NIter is the number of grid-walk iterations performed.
	NIter int

	// ImStats carries the background statistics measured by the signal
	// check, if it ran. Provenance only; nil when unknown.
	ImStats *ImStats

	// XYCtr is the centroid in xy positions (see PosMinusIndex).
	XYCtr Point2d

	// XYErr is the crude 1-sigma uncertainty of XYCtr per axis.
	XYErr Point2d

	// Asymm is the radial asymmetry at the best pixel, Pix the number of
	// unmasked pixels that contributed, Counts their total (ADU).
	Asymm  float64
	Pix    int
	Counts float64
}

func (c CentroidData) String() string {
	if !c.IsOK {
		return fmt.Sprintf("{IsOK=false, Msg=%q, Rad=%d}", c.Msg, c.Rad)
	}
	return fmt.Sprintf("{IsOK=true, XYCtr=(%f,%f), XYErr=(%f,%f), Asymm=%g, Pix=%d, Counts=%f, NSat=%d, Rad=%d, NIter=%d}",
		c.XYCtr.X, c.XYCtr.Y, c.XYErr.X, c.XYErr.Y, c.Asymm, c.Pix, c.Counts, c.NSat, c.Rad, c.NIter)
}

// StarShapeData is the outcome of a star shape fit. Every field defaults to
// NaN so that arithmetic on an unfit result propagates an invalid value
// instead of a silent zero.
type StarShapeData struct {
	Ampl  float64 // profile amplitude (ADU)
	Bkgnd float64 // background level (ADU)
	FWHM  float64 // FWHM of the main gaussian (pixels)
	ChiSq float64 // chi squared of the fit
}

// NewStarShapeData returns a StarShapeData with all fields NaN.
func NewStarShapeData() StarShapeData {
	nan := math.NaN()
	return StarShapeData{Ampl: nan, Bkgnd: nan, FWHM: nan, ChiSq: nan}
}

func (s StarShapeData) String() string {
	return fmt.Sprintf("{Ampl=%f, Bkgnd=%f, FWHM=%f, ChiSq=%f}",
		s.Ampl, s.Bkgnd, s.FWHM, s.ChiSq)
}

// CentroidParams holds the optional knobs of a centroid search.
type CentroidParams struct {
	// Thresh is the detection threshold multiplier used by the signal
	// check: valid signal > median + Thresh*stddev. Values below
	// MinThresh are silently increased.
	Thresh float64

	// Log, when non-nil, receives per-iteration debug output.
	Log logrus.FieldLogger
}

// NewCentroidParams creates a CentroidParams with default values.
func NewCentroidParams() *CentroidParams {
	return &CentroidParams{Thresh: 3.0}
}
