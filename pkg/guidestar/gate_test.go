package guidestar

import (
	"errors"
	"testing"
)

func TestSignalCheckDetectsStar(t *testing.T) {
	data := starFrame(31, 31, Point2d{X: 15.5, Y: 15.5}, 3.0, 2000, 100)
	defer data.Close()

	stats, err := signalCheck(data, NewMat(), Point2d{X: 15.5, Y: 15.5}, 5, 3.0)
	if err != nil {
		t.Fatalf("expected signal, got %s", err)
	}
	if stats.Rad != 5 || stats.OuterRad != 15 {
		t.Errorf("unexpected radii %d %d", stats.Rad, stats.OuterRad)
	}
	if !(stats.DataCut >= stats.Med) {
		t.Errorf("cut level %f below the median %f", stats.DataCut, stats.Med)
	}
}

func TestSignalCheckFlatFrame(t *testing.T) {
	data := flatFrame(31, 31, 100)
	defer data.Close()

	stats, err := signalCheck(data, NewMat(), Point2d{X: 15.5, Y: 15.5}, 5, 3.0)
	if !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected a no-signal failure, got %v", err)
	}
	if absDiff(stats.Med, 100) > 1e-6 || stats.StdDev != 0 {
		t.Errorf("expected med=100 stdDev=0, got %f %f", stats.Med, stats.StdDev)
	}
	if absDiff(stats.DataCut, 100) > 1e-6 {
		t.Errorf("expected the cut at the median for zero spread, got %f", stats.DataCut)
	}
}

func TestSignalCheckOneWidthStreak(t *testing.T) {
	// a one pixel wide streak must not count as a star
	data := flatFrame(31, 31, 100)
	defer data.Close()
	for j := 12; j <= 18; j++ {
		data.Set(15, j, 5000)
	}

	_, err := signalCheck(data, NewMat(), Point2d{X: 15.5, Y: 15.5}, 5, 3.0)
	if !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected a streak to be rejected, got %v", err)
	}
}

func TestSignalCheckMaskedStar(t *testing.T) {
	data := starFrame(31, 31, Point2d{X: 15.5, Y: 15.5}, 3.0, 2000, 100)
	defer data.Close()
	mask := flatFrame(31, 31, 0)
	defer mask.Close()
	for i := 11; i <= 19; i++ {
		for j := 11; j <= 19; j++ {
			mask.Set(i, j, 1)
		}
	}

	_, err := signalCheck(data, mask, Point2d{X: 15.5, Y: 15.5}, 5, 3.0)
	if !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected a fully masked star to be rejected, got %v", err)
	}
}

func TestClampThresh(t *testing.T) {
	if got := clampThresh(0.1); got != MinThresh {
		t.Errorf("expected the floor %f, got %f", MinThresh, got)
	}
	if got := clampThresh(3); got != 3 {
		t.Errorf("expected 3 to pass through, got %f", got)
	}
}

func TestHasWideBlob(t *testing.T) {
	// a 2x2 block qualifies
	above := make([]bool, 25)
	above[1*5+1] = true
	above[1*5+2] = true
	above[2*5+1] = true
	above[2*5+2] = true
	if !hasWideBlob(above, 5, 5) {
		t.Error("expected a 2x2 block to qualify")
	}

	// a diagonal pair is 8-connected and spans 2 pixels on both axes
	above = make([]bool, 25)
	above[1*5+1] = true
	above[2*5+2] = true
	if !hasWideBlob(above, 5, 5) {
		t.Error("expected a diagonal pair to qualify")
	}

	// a vertical line does not
	above = make([]bool, 25)
	above[1*5+3] = true
	above[2*5+3] = true
	above[3*5+3] = true
	if hasWideBlob(above, 5, 5) {
		t.Error("expected a one-wide line to be rejected")
	}
}
