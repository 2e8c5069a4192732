package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	yml "gopkg.in/yaml.v2"

	gs "guidestar/pkg/guidestar"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "guidestar.yml"
	k              = koanf.New(".")
)

type ccdConfig struct {
	// Bias is the bias level in ADU
	Bias float64 `yaml:"Bias"`

	// ReadNoise is the read noise in electrons
	ReadNoise float64 `yaml:"ReadNoise"`

	// Gain is the inverse gain in electrons per ADU
	Gain float64 `yaml:"Gain"`

	// SatLevel is the saturation level in ADU; zero disables the
	// saturated pixel count
	SatLevel float64 `yaml:"SatLevel"`
}

type config struct {
	// XGuess, YGuess are the approximate star position; the center of
	// pixel [i,j] is at position (j+0.5, i+0.5)
	XGuess float64 `yaml:"XGuess"`
	YGuess float64 `yaml:"YGuess"`

	// Rad is the search radius in pixels
	Rad float64 `yaml:"Rad"`

	// Thresh is the detection threshold in background sigma
	Thresh float64 `yaml:"Thresh"`

	// PredFWHM seeds the width fit; zero uses the default
	PredFWHM float64 `yaml:"PredFWHM"`

	// Verbose enables per-iteration debug logging
	Verbose bool `yaml:"Verbose"`

	CCD ccdConfig `yaml:"CCD"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		XGuess: 0,
		YGuess: 0,
		Rad:    20,
		Thresh: 3.0,
		CCD: ccdConfig{
			Bias:      0,
			ReadNoise: 5,
			Gain:      1,
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			logrus.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `guidestar finds the sub-pixel centroid and shape of a guide star
in an astronomical image.

Usage:
	guidestar <command>

Commands:
	run <image-file>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `guidestar is configured via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not
case-sensitive.  The command mkconf generates the configuration file with
the default values.

XGuess and YGuess are the approximate star position in the xy convention:
the center of the pixel in row i, column j is at position (j+0.5, i+0.5),
so a guess of (0, 0) is the outer corner of the first pixel.  When both are
zero the center of the frame is used.

ReadNoise and Gain describe the detector and only affect the noise
weighting and the centroid error estimate; rough values are fine.  Set
SatLevel to the ADU level at which the detector saturates to get a count
of saturated pixels, or leave it zero to skip that check.

run accepts FITS images (.fits/.fit, first HDU) as well as anything the
image codecs can decode (PNG, JPEG, TIFF), reduced to grayscale.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		logrus.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		logrus.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("guidestar version %v\n", Version)
}

func run(path string) {
	cfg := config{}
	k.Unmarshal("", &cfg)

	log := logrus.New()
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	data, err := loadFrame(path)
	if err != nil {
		log.Fatal(err)
	}
	defer data.Close()
	log.WithFields(logrus.Fields{
		"rows": data.Rows(),
		"cols": data.Cols(),
	}).Info("frame loaded")

	guess := gs.Point2d{X: cfg.XGuess, Y: cfg.YGuess}
	if guess.X == 0 && guess.Y == 0 {
		guess = gs.Point2d{X: float64(data.Cols()) / 2, Y: float64(data.Rows()) / 2}
		log.Infof("no guess configured, starting from the frame center (%g, %g)", guess.X, guess.Y)
	}
	ccd := gs.CCDInfo{
		Bias:      cfg.CCD.Bias,
		ReadNoise: cfg.CCD.ReadNoise,
		CCDGain:   cfg.CCD.Gain,
		SatLevel:  cfg.CCD.SatLevel,
	}
	params := gs.NewCentroidParams()
	params.Thresh = cfg.Thresh
	if cfg.Verbose {
		params.Log = log
	}

	cd, err := gs.Centroid(data, gs.NewMat(), guess, cfg.Rad, ccd, params)
	if err != nil {
		log.Fatal(err)
	}
	if cd.ImStats != nil {
		log.WithFields(logrus.Fields{
			"med":     fmt.Sprintf("%.2f", cd.ImStats.Med),
			"stdDev":  fmt.Sprintf("%.2f", cd.ImStats.StdDev),
			"dataCut": fmt.Sprintf("%.2f", cd.ImStats.DataCut),
		}).Info("background")
	}
	if !cd.IsOK {
		log.Fatalf("centroid failed: %s", cd.Msg)
	}

	fmt.Printf("centroid:  (%.3f, %.3f) +/- (%.3f, %.3f) px\n",
		cd.XYCtr.X, cd.XYCtr.Y, cd.XYErr.X, cd.XYErr.Y)
	fmt.Printf("counts:    %.0f ADU over %d px\n", cd.Counts, cd.Pix)
	if cd.NSat >= 0 {
		fmt.Printf("saturated: %d px\n", cd.NSat)
	}

	sd, err := gs.StarShape(data, gs.NewMat(), cd.XYCtr, cfg.Rad, cfg.PredFWHM)
	if err != nil {
		log.Fatalf("shape fit failed: %s", err)
	}
	fmt.Printf("fwhm:      %.3f px\n", sd.FWHM)
	fmt.Printf("amplitude: %.1f ADU over background %.1f ADU\n", sd.Ampl, sd.Bkgnd)
	fmt.Printf("chi2:      %.3f\n", sd.ChiSq)
}

func loadFrame(path string) (gs.Mat, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".fits") || strings.HasSuffix(lower, ".fit") {
		return readFITS(path)
	}
	return loadNonFitsImage(path)
}

// readFITS loads the primary HDU of a FITS file as a float frame,
// applying the BZERO/BSCALE transform customary for unsigned data.
func readFITS(path string) (gs.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gs.Mat{}, fmt.Errorf("opening FITS: %w", err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return gs.Mat{}, fmt.Errorf("parsing FITS: %w", err)
	}
	defer fits.Close()

	hdu := fits.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return gs.Mat{}, fmt.Errorf("primary HDU of %s is not an image", path)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return gs.Mat{}, fmt.Errorf("primary HDU has %d axes, need 2", len(axes))
	}
	w, h := axes[0], axes[1]
	n := w * h

	bzero := headerFloat(hdr, "BZERO", 0)
	bscale := headerFloat(hdr, "BSCALE", 1)

	pix := make([]float64, n)
	switch hdr.Bitpix() {
	case 8:
		var raw []int8
		if err := img.Read(&raw); err != nil {
			return gs.Mat{}, fmt.Errorf("reading FITS data: %w", err)
		}
		for i := 0; i < n; i++ {
			pix[i] = bscale*float64(raw[i]) + bzero
		}
	case 16:
		var raw []int16
		if err := img.Read(&raw); err != nil {
			return gs.Mat{}, fmt.Errorf("reading FITS data: %w", err)
		}
		for i := 0; i < n; i++ {
			pix[i] = bscale*float64(raw[i]) + bzero
		}
	case 32:
		var raw []int32
		if err := img.Read(&raw); err != nil {
			return gs.Mat{}, fmt.Errorf("reading FITS data: %w", err)
		}
		for i := 0; i < n; i++ {
			pix[i] = bscale*float64(raw[i]) + bzero
		}
	case -32:
		var raw []float32
		if err := img.Read(&raw); err != nil {
			return gs.Mat{}, fmt.Errorf("reading FITS data: %w", err)
		}
		for i := 0; i < n; i++ {
			pix[i] = bscale*float64(raw[i]) + bzero
		}
	case -64:
		var raw []float64
		if err := img.Read(&raw); err != nil {
			return gs.Mat{}, fmt.Errorf("reading FITS data: %w", err)
		}
		for i := 0; i < n; i++ {
			pix[i] = bscale*raw[i] + bzero
		}
	default:
		return gs.Mat{}, fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}

	return gs.MatFromFloat64(pix, w, h), nil
}

func headerFloat(hdr *fitsio.Header, key string, def float64) float64 {
	card := hdr.Get(key)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func main() {
	setupconfig()
	var cmd string
	args := os.Args
	if len(args) > 1 {
		cmd = args[1]
	}
	switch strings.ToLower(cmd) {
	case "help":
		help()
	case "run":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: guidestar run <image-file>")
			os.Exit(1)
		}
		run(args[2])
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	default:
		root()
	}
}
