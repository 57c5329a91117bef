package networkserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NetworkServerConfig{
		BaseURL:            srv.URL,
		APIToken:           "token-1",
		Timeout:            2 * time.Second,
		FPort:              1,
		RosterLimit:        100,
		MaxRetries:         2,
		RetryDelay:         time.Millisecond,
		BreakerMaxFailures: 3,
		BreakerReset:       time.Minute,
	}
	return NewClient(cfg, "app-1", logger.NewNop())
}

func TestListDevicesSendsAuthAndQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/devices", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Grpc-Metadata-Authorization"))
		require.Equal(t, "app-1", r.URL.Query().Get("applicationId"))
		require.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"totalCount":1,"result":[{"devEui":"a1b2","name":"robot-1"}]}`))
	})

	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "a1b2", devices[0].DevEUI)
}

func TestEnqueueMulticastBody(t *testing.T) {
	var body map[string]map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/multicast-groups/g-1/queue", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"fCnt":12}`))
	})

	require.NoError(t, client.EnqueueMulticast(context.Background(), "g-1", []byte{0x02}))
	require.Equal(t, "Ag==", body["queueItem"]["data"])
	require.Equal(t, 0.0, body["queueItem"]["fCnt"])
	require.Equal(t, 1.0, body["queueItem"]["fPort"])
}

func TestEnqueueIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.EnqueueDevice(context.Background(), "a1", []byte{0x03})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReadsRetryServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":[{"id":"g-1","name":"row A"}]}`))
	})

	groups, err := client.ListMulticastGroups(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReadsDoNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetGatewayLocation(context.Background(), "gw-1")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, StateClosed, client.circuitBreaker.State())
}

func TestGatewayLocation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/gateways/gw-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"gateway":{"gatewayId":"gw-1","location":{"latitude":12.9,"longitude":77.6,"altitude":900}}}`))
	})

	location, err := client.GetGatewayLocation(context.Background(), "gw-1")
	require.NoError(t, err)
	require.Equal(t, 12.9, location.Latitude)
	require.Equal(t, 77.6, location.Longitude)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	client.circuitBreaker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.Error(t, client.EnqueueDevice(context.Background(), "a1", []byte{0x02}))
	}
	require.Equal(t, StateOpen, client.circuitBreaker.State())
	require.True(t, errors.Is(client.EnqueueDevice(context.Background(), "a1", []byte{0x02}), ErrCircuitOpen))

	failing.Store(false)
	now = now.Add(2 * time.Minute)
	require.NoError(t, client.EnqueueDevice(context.Background(), "a1", []byte{0x02}))
	require.Equal(t, StateClosed, client.circuitBreaker.State())
	require.Equal(t, "closed", client.CircuitBreakerStatus()["state"])
}

func TestListGatewaysFiltersByTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/gateways", r.URL.Path)
		require.Equal(t, "20", r.URL.Query().Get("limit"))
		require.Equal(t, "tenant-1", r.URL.Query().Get("tenantId"))
		_, _ = w.Write([]byte(`{"totalCount":1,"result":[{"gatewayId":"gw-1","name":"roof","location":{"latitude":12.9,"longitude":77.5}}]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.NetworkServerConfig{
		BaseURL:  srv.URL,
		TenantID: "tenant-1",
		Timeout:  time.Second,
	}, "app-1", logger.NewNop())

	gateways, err := client.ListGateways(context.Background(), 20)
	require.NoError(t, err)
	require.Equal(t, 1, gateways.TotalCount)
	require.Equal(t, "gw-1", gateways.Result[0].GatewayID)
	require.Equal(t, 12.9, gateways.Result[0].Location.Latitude)
}

func TestProbeReportsOpenBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	require.NoError(t, client.Probe(context.Background()))

	for i := 0; i < 3; i++ {
		_ = client.EnqueueDevice(context.Background(), "a1", []byte{0x02})
	}
	err := client.Probe(context.Background())
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorContains(t, err, "3 failures")
}

func TestHalfOpenAllowsOneTrialCall(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	require.True(t, cb.canExecute())
	cb.onFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.canExecute())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.canExecute())
	require.Equal(t, StateHalfOpen, cb.State())
	// a second caller is refused while the trial call is outstanding
	require.False(t, cb.canExecute())

	cb.onFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.canExecute())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.canExecute())
	cb.onSuccess()
	require.Equal(t, StateClosed, cb.State())
	require.True(t, cb.canExecute())
	require.True(t, cb.canExecute())
}
