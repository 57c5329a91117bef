package weather

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

func TestEvaluateBoundaries(t *testing.T) {
	limits := Thresholds{WindSpeed: 7, Humidity: 85, RainEnabled: true}

	cases := []struct {
		name     string
		snapshot Snapshot
		valid    bool
		reason   string
	}{
		{"all at limit", Snapshot{WindSpeed: 7, Humidity: 85}, true, ""},
		{"wind above", Snapshot{WindSpeed: 7.1, Humidity: 10}, false, "Wind speed exceeds the threshold: 7.1 m/s"},
		{"humidity above", Snapshot{WindSpeed: 1, Humidity: 86}, false, "Humidity exceeds the threshold: 86%"},
		{"rain", Snapshot{Rain: 0.5}, false, "Operation disabled due to rain detection: 0.5 mm"},
		{"rain wins over wind", Snapshot{Rain: 2, WindSpeed: 30, Humidity: 99}, false, "Operation disabled due to rain detection: 2 mm"},
		{"wind wins over humidity", Snapshot{WindSpeed: 8, Humidity: 99}, false, "Wind speed exceeds the threshold: 8 m/s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Evaluate(tc.snapshot, limits)
			require.Equal(t, tc.valid, decision.Valid)
			require.Equal(t, tc.reason, decision.Reason)
		})
	}
}

func TestEvaluateRainIgnoredWhenDisabled(t *testing.T) {
	decision := Evaluate(Snapshot{Rain: 5, WindSpeed: 1, Humidity: 50}, Thresholds{WindSpeed: 7, Humidity: 85})
	require.True(t, decision.Valid)
}

func TestThresholdValidation(t *testing.T) {
	store, err := NewThresholdStore(Thresholds{WindSpeed: 7, Humidity: 85})
	require.NoError(t, err)

	for _, bad := range []Thresholds{
		{WindSpeed: -1, Humidity: 50},
		{WindSpeed: 5, Humidity: 101},
		{WindSpeed: 5, Humidity: -0.1},
		{WindSpeed: math.NaN(), Humidity: 50},
	} {
		require.ErrorIs(t, store.Set(bad), ErrInvalidThresholds)
	}
	require.Equal(t, Thresholds{WindSpeed: 7, Humidity: 85}, store.Get())

	require.NoError(t, store.Set(Thresholds{WindSpeed: 0, Humidity: 100, RainEnabled: true}))
	require.True(t, store.Get().RainEnabled)
}

func TestOpenWeatherMapParsesRain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "metric", r.URL.Query().Get("units"))
		require.Equal(t, "key-1", r.URL.Query().Get("appid"))
		require.Equal(t, "12.5", r.URL.Query().Get("lat"))
		_, _ = w.Write([]byte(`{"main":{"temp":24.1,"humidity":70},"wind":{"speed":3.2},"rain":{"1h":0.4}}`))
	}))
	defer srv.Close()

	snapshot, err := NewOpenWeatherMap(srv.URL, "key-1", time.Second).Current(context.Background(), 12.5, 77)
	require.NoError(t, err)
	require.Equal(t, Snapshot{Temperature: 24.1, Humidity: 70, WindSpeed: 3.2, Rain: 0.4}, *snapshot)
}

func TestOpenWeatherMapMissingRainIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"main":{"temp":20,"humidity":40},"wind":{"speed":1}}`))
	}))
	defer srv.Close()

	snapshot, err := NewOpenWeatherMap(srv.URL, "k", time.Second).Current(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Zero(t, snapshot.Rain)
}

func TestOpenWeatherMapErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenWeatherMap(srv.URL, "k", time.Second).Current(context.Background(), 0, 0)
	require.ErrorContains(t, err, "status 401")
}

type stubProvider struct {
	snapshot *Snapshot
	err      error
}

func (s stubProvider) Current(context.Context, float64, float64) (*Snapshot, error) {
	return s.snapshot, s.err
}

type stubLocator struct {
	location *rbtmodels.GatewayLocation
	err      error
}

func (s stubLocator) GetGatewayLocation(context.Context, string) (*rbtmodels.GatewayLocation, error) {
	return s.location, s.err
}

func TestGateCheckUsesLiveOrSuppliedThresholds(t *testing.T) {
	store, err := NewThresholdStore(Thresholds{WindSpeed: 5, Humidity: 90})
	require.NoError(t, err)
	gate := NewGate(stubProvider{snapshot: &Snapshot{WindSpeed: 6, Humidity: 50}}, &StaticLocation{}, store, time.Second, logger.NewNop())

	decision, _, err := gate.Check(context.Background(), "create", nil)
	require.NoError(t, err)
	require.False(t, decision.Valid)

	decision, snapshot, err := gate.Check(context.Background(), "fire", &Thresholds{WindSpeed: 10, Humidity: 90})
	require.NoError(t, err)
	require.True(t, decision.Valid)
	require.Equal(t, 6.0, snapshot.WindSpeed)
}

func TestGateFetchErrorsPropagate(t *testing.T) {
	store, err := NewThresholdStore(Thresholds{WindSpeed: 5, Humidity: 90})
	require.NoError(t, err)

	locErr := errors.New("gateway offline")
	gate := NewGate(stubProvider{snapshot: &Snapshot{}}, NewGatewayLocation(stubLocator{err: locErr}, "gw"), store, time.Second, logger.NewNop())
	_, _, err = gate.Check(context.Background(), "create", nil)
	require.ErrorIs(t, err, locErr)

	apiErr := errors.New("provider down")
	gate = NewGate(stubProvider{err: apiErr}, NewGatewayLocation(stubLocator{location: &rbtmodels.GatewayLocation{Latitude: 1, Longitude: 2}}, "gw"), store, time.Second, logger.NewNop())
	_, _, err = gate.Check(context.Background(), "create", nil)
	require.ErrorIs(t, err, apiErr)
}

func TestParseStaticLocation(t *testing.T) {
	loc, err := ParseStaticLocation("12.97", "77.59")
	require.NoError(t, err)
	require.Equal(t, 12.97, loc.Latitude)

	_, err = ParseStaticLocation("north", "77")
	require.Error(t, err)
	_, err = ParseStaticLocation("95", "77")
	require.Error(t, err)
}
