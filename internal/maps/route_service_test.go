package maps

import (
	"context"
	"testing"
	"time"

	"foodhub/internal/types"
)

func TestStraightLine_Estimate(t *testing.T) {
	a := types.Point{Lat: 0, Lng: 0}
	b := types.Point{Lat: 0, Lng: 0.1} // ~11.12 km

	eta, err := StraightLine{SpeedKmh: 20}.Estimate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if eta.DistanceMeters < 11100 || eta.DistanceMeters > 11140 {
		t.Fatalf("unexpected distance %d", eta.DistanceMeters)
	}
	if eta.Duration < 33*time.Minute || eta.Duration > 34*time.Minute {
		t.Fatalf("unexpected duration %s", eta.Duration)
	}

	same, _ := StraightLine{}.Estimate(context.Background(), a, a)
	if same.Duration != 0 || same.DistanceMeters != 0 {
		t.Fatalf("expected zero estimate for identical points, got %+v", same)
	}
}

func TestLatLngFormat(t *testing.T) {
	if got := latLng(types.Point{Lat: 38.7223, Lng: -9.1393}); got != "38.722300,-9.139300" {
		t.Fatalf("unexpected origin string %q", got)
	}
}
