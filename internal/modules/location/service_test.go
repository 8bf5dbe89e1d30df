package location_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodhub/internal/config"
	"foodhub/internal/logger"
	"foodhub/internal/modules/location"
	"foodhub/internal/modules/partner"
	"foodhub/internal/realtime"
	"foodhub/internal/realtime/realtimetest"
	"foodhub/internal/throttle"
	"foodhub/internal/types"
)

type recordingPartners struct {
	mu    sync.Mutex
	saved []partner.SessionLocation
	fail  bool
}

func (p *recordingPartners) SaveSessionLocation(_ context.Context, _ types.ID, loc partner.SessionLocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("db down")
	}
	p.saved = append(p.saved, loc)
	return nil
}

func (p *recordingPartners) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

var rider = types.Actor{ID: "p7", Role: types.RoleDeliveryPartner}

func acc(v float64) *float64 { return &v }

func newService() (*location.Service, *recordingPartners, *realtimetest.Recorder, *location.MemorySessions) {
	partners := &recordingPartners{}
	rooms := &realtimetest.Recorder{}
	sessions := location.NewMemorySessions(time.Minute)
	svc := location.NewService(partners, sessions, throttle.NewMemory(5*time.Second), rooms,
		config.LocationConfig{MaxAccuracyMeters: 100}, logger.Nop())
	return svc, partners, rooms, sessions
}

func TestHandleDeliveryUpdate_DropsInvalidTelemetry(t *testing.T) {
	ctx := context.Background()
	svc, partners, rooms, _ := newService()

	cases := []struct {
		name string
		u    location.DeliveryUpdate
	}{
		{"latitude out of range", location.DeliveryUpdate{OrderID: "ORD-1", Latitude: 95, Longitude: -73, GeoAccuracy: acc(10)}},
		{"longitude out of range", location.DeliveryUpdate{OrderID: "ORD-1", Latitude: 45, Longitude: -181}},
		{"accuracy too coarse", location.DeliveryUpdate{OrderID: "ORD-1", Latitude: 45, Longitude: -73, GeoAccuracy: acc(150)}},
		{"mocked", location.DeliveryUpdate{OrderID: "ORD-1", Latitude: 45, Longitude: -73, IsMocked: true}},
		{"no order", location.DeliveryUpdate{Latitude: 45, Longitude: -73}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := svc.HandleDeliveryUpdate(ctx, rider, tc.u)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
	assert.Empty(t, rooms.All())
	assert.Zero(t, partners.count())
}

func TestHandleDeliveryUpdate_BroadcastsEverySamplePersistsThrottled(t *testing.T) {
	ctx := context.Background()
	svc, partners, rooms, sessions := newService()

	for i := 0; i < 3; i++ {
		ok, err := svc.HandleDeliveryUpdate(ctx, rider, location.DeliveryUpdate{
			OrderID: "ORD-1", Latitude: 45, Longitude: -73, GeoAccuracy: acc(10),
		})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	room := realtime.OrderRoom("ORD-1")
	live := rooms.Find(location.EventDeliveryLive, &room)
	require.Len(t, live, 3)
	payload := live[0].Data.(location.Live)
	assert.Equal(t, types.ID("p7"), payload.PartnerID)
	assert.Equal(t, 45.0, payload.Latitude)

	assert.Equal(t, 1, partners.count())

	sess, err := sessions.Get(ctx, "p7")
	require.NoError(t, err)
	assert.Equal(t, types.Point{Lat: 45, Lng: -73}, sess.Point)
}

func TestHandleDeliveryUpdate_PersistFailureDoesNotAffectBroadcast(t *testing.T) {
	ctx := context.Background()
	svc, partners, rooms, _ := newService()
	partners.fail = true

	ok, err := svc.HandleDeliveryUpdate(ctx, rider, location.DeliveryUpdate{OrderID: "ORD-1", Latitude: 45, Longitude: -73})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, rooms.All(), 1)
}

func TestHandleDeliveryUpdate_RequiresPartnerRole(t *testing.T) {
	svc, _, rooms, _ := newService()
	_, err := svc.HandleDeliveryUpdate(context.Background(), types.Actor{ID: "c1", Role: types.RoleCustomer},
		location.DeliveryUpdate{OrderID: "ORD-1", Latitude: 45, Longitude: -73})
	assert.ErrorIs(t, err, location.ErrForbidden)
	assert.Empty(t, rooms.All())
}

func TestHandleLocationUpdate_StoresSessionForAnyRole(t *testing.T) {
	ctx := context.Background()
	svc, partners, rooms, _ := newService()
	vendor := types.Actor{ID: "v1", Role: types.RoleVendor}

	ok, err := svc.HandleLocationUpdate(ctx, vendor, location.Sample{Latitude: 38.7, Longitude: -9.1})
	require.NoError(t, err)
	assert.True(t, ok)
	p, err := svc.CurrentLocation(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, types.Point{Lat: 38.7, Lng: -9.1}, p)
	assert.Zero(t, partners.count())

	ok, err = svc.HandleLocationUpdate(ctx, rider, location.Sample{Latitude: 38.7, Longitude: -9.1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, partners.count())
	assert.Empty(t, rooms.All())

	_, err = svc.CurrentLocation(ctx, "nobody")
	assert.ErrorIs(t, err, location.ErrNoSession)
}

func TestJoinOrderTracking(t *testing.T) {
	svc, _, _, _ := newService()
	for role, allowed := range map[types.Role]bool{
		types.RoleCustomer:        true,
		types.RoleDeliveryPartner: true,
		types.RoleAdmin:           true,
		types.RoleSuperAdmin:      true,
		types.RoleVendor:          false,
		types.RoleFleetManager:    false,
	} {
		err := svc.JoinOrderTracking(types.Actor{ID: "u", Role: role}, "ORD-1")
		if allowed {
			assert.NoError(t, err, role)
		} else {
			assert.ErrorIs(t, err, location.ErrForbidden, role)
		}
	}
}

func TestRedisSessions_RoundTrip(t *testing.T) {
	addr := os.Getenv("FOODHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FOODHUB_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	sessions := location.NewRedisSessions(client, time.Minute)
	user := types.ID("sess-" + types.NewID())
	_, err := sessions.Get(ctx, user)
	assert.ErrorIs(t, err, location.ErrNoSession)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, sessions.Set(ctx, user, location.Session{Point: types.Point{Lat: 1.5, Lng: 2.25}, Accuracy: acc(7), UpdatedAt: at}))
	got, err := sessions.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.Point{Lat: 1.5, Lng: 2.25}, got.Point)
	require.NotNil(t, got.Accuracy)
	assert.Equal(t, 7.0, *got.Accuracy)
	assert.True(t, at.Equal(got.UpdatedAt))
}
