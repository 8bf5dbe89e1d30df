package zone_test

import (
	"context"
	"errors"
	"testing"

	"foodhub/internal/geo"
	"foodhub/internal/logger"
	"foodhub/internal/modules/zone"
	"foodhub/internal/modules/zone/zonetest"
	"foodhub/internal/types"
)

// square returns a closed ring with its south-west corner at (lng, lat).
func square(lng, lat, size float64) geo.Ring {
	return geo.Ring{
		{lng, lat}, {lng + size, lat}, {lng + size, lat + size}, {lng, lat + size}, {lng, lat},
	}
}

func newService(t *testing.T) (*zone.Service, *zonetest.Memory) {
	t.Helper()
	store := zonetest.NewMemory()
	return zone.NewService(store, logger.Nop()), store
}

func mustCreate(t *testing.T, svc *zone.Service, id types.ID, ring geo.Ring, operational bool) *zone.Zone {
	t.Helper()
	z, err := svc.Create(context.Background(), zone.CreateCommand{
		ZoneID:            id,
		District:          "Centro",
		ZoneName:          string(id),
		Boundary:          ring,
		IsOperational:     operational,
		MinFee:            types.Money{Amount: 250, Currency: "EUR"},
		MaxDistanceMeters: 8000,
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return z
}

func TestResolveForPoint(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "Z1", square(0, 0, 1), true)
	mustCreate(t, svc, "Z2", square(2, 0, 1), false)

	z, err := svc.ResolveForPoint(ctx, types.Point{Lat: 0.5, Lng: 0.5})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if z.ZoneID != "Z1" {
		t.Fatalf("expected Z1, got %s", z.ZoneID)
	}

	// Non-operational zones never resolve.
	if _, err := svc.ResolveForPoint(ctx, types.Point{Lat: 0.5, Lng: 2.5}); !errors.Is(err, zone.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive zone, got %v", err)
	}
	if _, err := svc.ResolveForPoint(ctx, types.Point{Lat: 10, Lng: 10}); !errors.Is(err, zone.ErrNotFound) {
		t.Fatalf("expected ErrNotFound outside every zone, got %v", err)
	}
	if _, err := svc.ResolveForPoint(ctx, types.Point{Lat: 91, Lng: 0}); !errors.Is(err, zone.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for invalid latitude, got %v", err)
	}
}

func TestResolveForPoint_MultipleMatchesIsIntegrityError(t *testing.T) {
	svc, store := newService(t)
	store.Put(zone.Zone{ZoneID: "A", Boundary: square(0, 0, 2), IsOperational: true})
	store.Put(zone.Zone{ZoneID: "B", Boundary: square(1, 1, 2), IsOperational: true})

	_, err := svc.ResolveForPoint(context.Background(), types.Point{Lat: 1.5, Lng: 1.5})
	if !errors.Is(err, zone.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestCreate_RejectsDuplicateAndOverlap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "Z1", square(0, 0, 1), true)

	_, err := svc.Create(ctx, zone.CreateCommand{ZoneID: "Z1", District: "d", ZoneName: "n", Boundary: square(5, 5, 1)})
	if !errors.Is(err, zone.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	_, err = svc.Create(ctx, zone.CreateCommand{ZoneID: "Z2", District: "d", ZoneName: "n", Boundary: square(0.5, 0.5, 1)})
	if !errors.Is(err, zone.ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}

	// A zone fully inside another still overlaps.
	_, err = svc.Create(ctx, zone.CreateCommand{ZoneID: "Z3", District: "d", ZoneName: "n", Boundary: square(0.25, 0.25, 0.5)})
	if !errors.Is(err, zone.ErrOverlap) {
		t.Fatalf("expected ErrOverlap for contained ring, got %v", err)
	}

	_, err = svc.Create(ctx, zone.CreateCommand{ZoneID: "Z4", District: "d", ZoneName: "n", Boundary: geo.Ring{{0, 0}, {1, 1}}})
	if !errors.Is(err, zone.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for degenerate ring, got %v", err)
	}
}

func TestCreate_ClosesOpenRing(t *testing.T) {
	svc, _ := newService(t)
	open := geo.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	z := mustCreate(t, svc, "Z1", open, true)
	if first, last := z.Boundary[0], z.Boundary[len(z.Boundary)-1]; first != last {
		t.Fatalf("expected closed ring, got first=%v last=%v", first, last)
	}
}

func TestUpdate_BoundaryExcludesItself(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "Z1", square(0, 0, 1), true)
	mustCreate(t, svc, "Z2", square(3, 0, 1), true)

	// Growing Z1 over its own old footprint is fine.
	grown := square(0, 0, 1.5)
	z, err := svc.Update(ctx, "Z1", zone.Patch{Boundary: &grown})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(z.Boundary) != 5 {
		t.Fatalf("unexpected boundary %v", z.Boundary)
	}

	// Growing it into Z2 is not.
	tooBig := square(0, 0, 3.5)
	if _, err := svc.Update(ctx, "Z1", zone.Patch{Boundary: &tooBig}); !errors.Is(err, zone.ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}

	name := "Renamed"
	z, err = svc.Update(ctx, "Z1", zone.Patch{ZoneName: &name})
	if err != nil || z.ZoneName != "Renamed" {
		t.Fatalf("rename failed: %v %+v", err, z)
	}
}

func TestToggleOperational(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "Z1", square(0, 0, 1), false)

	if _, err := svc.ToggleOperational(ctx, "Z1", false); !errors.Is(err, zone.ErrNoop) {
		t.Fatalf("expected ErrNoop, got %v", err)
	}

	// An active zone created over the inactive one blocks reactivation.
	mustCreate(t, svc, "Z2", square(0.5, 0.5, 1), true)
	if _, err := svc.ToggleOperational(ctx, "Z1", true); !errors.Is(err, zone.ErrOverlap) {
		t.Fatalf("expected ErrOverlap on reactivation, got %v", err)
	}

	if _, err := svc.ToggleOperational(ctx, "Z2", false); err != nil {
		t.Fatalf("deactivate Z2: %v", err)
	}
	z, err := svc.ToggleOperational(ctx, "Z1", true)
	if err != nil || !z.IsOperational {
		t.Fatalf("reactivate Z1: %v", err)
	}
}

func TestDeletionOrdering(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	mustCreate(t, svc, "Z1", square(0, 0, 1), true)

	if err := svc.PermanentDelete(ctx, "Z1"); !errors.Is(err, zone.ErrNotSoftDeleted) {
		t.Fatalf("expected ErrNotSoftDeleted, got %v", err)
	}
	if err := svc.SoftDelete(ctx, "Z1"); !errors.Is(err, zone.ErrStillOperational) {
		t.Fatalf("expected ErrStillOperational, got %v", err)
	}
	if _, err := svc.ToggleOperational(ctx, "Z1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := svc.SoftDelete(ctx, "Z1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	visible, _ := svc.List(ctx, false)
	all, _ := svc.List(ctx, true)
	if len(visible) != 0 || len(all) != 1 {
		t.Fatalf("expected soft-deleted zone hidden by default, got %d/%d", len(visible), len(all))
	}
	if all[0].DeletedAt == nil {
		t.Fatal("expected DeletedAt to be set")
	}

	if _, err := svc.ToggleOperational(ctx, "Z1", true); !errors.Is(err, zone.ErrDeleted) {
		t.Fatalf("expected ErrDeleted, got %v", err)
	}
	if err := svc.PermanentDelete(ctx, "Z1"); err != nil {
		t.Fatalf("permanent delete: %v", err)
	}
	if _, err := svc.Get(ctx, "Z1"); !errors.Is(err, zone.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after permanent delete, got %v", err)
	}
}
