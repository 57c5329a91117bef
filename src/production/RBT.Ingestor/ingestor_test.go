package ingestor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	cache "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Cache"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	counter "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Counter"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	implementation "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Implementation"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeRoster struct {
	devices []rbtmodels.RosterDevice
	err     error
}

func (f fakeRoster) ListDevices(context.Context) ([]rbtmodels.RosterDevice, error) {
	return f.devices, f.err
}

type fakeArchive struct {
	mu     sync.Mutex
	events []rbtmodels.UplinkEvent
}

func (f *fakeArchive) Archive(_ context.Context, event rbtmodels.UplinkEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func testConfig(queueSize, workers int) *config.FleetConfig {
	return &config.FleetConfig{
		MQTT:   config.MQTTConfig{ApplicationID: "app-1", BrokerHost: "localhost", BrokerPort: 1883},
		Ingest: config.IngestConfig{QueueSize: queueSize, Workers: workers, StoreTimeout: time.Second},
	}
}

const upTopic = "application/app-1/device/a1b2c3/event/up"

func TestParseTopic(t *testing.T) {
	app, eui, kind, err := ParseTopic(upTopic)
	require.NoError(t, err)
	require.Equal(t, "app-1", app)
	require.Equal(t, "a1b2c3", eui)
	require.Equal(t, "up", kind)

	for _, bad := range []string{
		"application/app-1/device/a1b2c3/event",
		"sensors/pi/1/temp",
		"application/app-1/device//event/up",
		"application/app-1/gateway/a1/event/up",
	} {
		_, _, _, err := ParseTopic(bad)
		require.ErrorIs(t, err, ErrInvalidTopic, bad)
	}
}

func TestDecodeUplink(t *testing.T) {
	at := time.Now()
	event, err := DecodeUplink(upTopic, []byte(`{"deviceInfo":{"devEui":"a1b2c3"},"object":{"CH1":7,"CH10":"12.5"}}`), at)
	require.NoError(t, err)
	require.Equal(t, "a1b2c3", event.DeviceEUI)
	require.Equal(t, at, event.ReceivedAt)

	_, err = DecodeUplink(upTopic, []byte(`{"deviceInfo":{}}`), at)
	require.ErrorIs(t, err, ErrMalformedPayload)
	_, err = DecodeUplink(upTopic, []byte(`not json`), at)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestChannelConversion(t *testing.T) {
	object := map[string]interface{}{"CH1": "12.9", "CH6": 3.5, "CH10": "abc", "CH7": nil}

	require.Equal(t, 3.5, ChannelFloat(object, "CH6"))
	require.Equal(t, 12.9, ChannelFloat(object, "CH1"))
	require.True(t, math.IsNaN(ChannelFloat(object, "CH10")))
	require.True(t, math.IsNaN(ChannelFloat(object, "CH7")))
	require.True(t, math.IsNaN(ChannelFloat(object, "CH99")))

	id, err := DeviceID(object)
	require.NoError(t, err)
	require.Equal(t, int64(12), id)

	_, err = DeviceID(map[string]interface{}{"CH1": "robot"})
	require.ErrorIs(t, err, ErrMissingDeviceID)
	_, err = DeviceID(map[string]interface{}{})
	require.ErrorIs(t, err, ErrMissingDeviceID)
}

type harness struct {
	ing     *Ingestor
	repo    *implementation.MemoryReadingRepository
	live    *cache.LiveStatusStore
	archive *fakeArchive
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := implementation.NewMemoryReadingRepository()
	h := &harness{
		repo:    repo,
		live:    cache.NewLiveStatusStore(),
		archive: &fakeArchive{},
	}
	store := counter.NewStore(repo, logger.NewNop())
	h.ing = New(testConfig(16, 2), store, h.live, fakeRoster{}, cache.NewRosterCache(), h.archive, logger.NewNop())
	h.ing.startWorkers(context.Background())
	return h
}

func TestUplinksBecomeDeltas(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{
		`{"object":{"CH1":42,"CH6":1,"CH7":0,"CH10":10}}`,
		`{"object":{"CH1":42,"CH6":1,"CH7":0,"CH10":15}}`,
		`{"object":{"CH1":42,"CH6":2,"CH7":4,"CH10":0}}`,
	} {
		h.ing.handleMessage(nil, fakeMessage{topic: upTopic, payload: []byte(body)})
	}
	h.ing.Stop()

	readings, err := h.repo.ListReadingsByDevice(context.Background(), 42, 10)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	require.Equal(t, []float64{-15, 5, 10}, []float64{readings[0].Delta, readings[1].Delta, readings[2].Delta})

	status, ok := h.live.Get("a1b2c3")
	require.True(t, ok)
	require.Equal(t, 4.0, status.Fault)
	require.Equal(t, 42.0, status.Label)
	require.Len(t, h.archive.events, 3)
}

func TestNonUplinkEventsIgnored(t *testing.T) {
	h := newHarness(t)

	h.ing.handleMessage(nil, fakeMessage{
		topic:   "application/app-1/device/a1b2c3/event/join",
		payload: []byte(`{"object":{"CH1":42,"CH10":10}}`),
	})
	h.ing.Stop()

	require.Zero(t, h.live.Len())
	require.Zero(t, h.repo.Count())
}

func TestMalformedUplinkDropped(t *testing.T) {
	h := newHarness(t)

	h.ing.handleMessage(nil, fakeMessage{topic: upTopic, payload: []byte(`{"object":`)})
	h.ing.handleMessage(nil, fakeMessage{topic: "application/app-1/bad", payload: []byte(`{}`)})
	h.ing.Stop()

	require.Zero(t, h.live.Len())
	require.Zero(t, h.repo.Count())
}

func TestSentinelDeviceUpdatesLiveStatusOnly(t *testing.T) {
	h := newHarness(t)

	h.ing.handleMessage(nil, fakeMessage{topic: upTopic, payload: []byte(`{"object":{"CH1":0,"CH7":2,"CH10":10}}`)})
	h.ing.Stop()

	status, ok := h.live.Get("a1b2c3")
	require.True(t, ok)
	require.Equal(t, 2.0, status.Fault)
	require.Zero(t, h.repo.Count())
}

type liveCheckingStore struct {
	live *cache.LiveStatusStore
	seen bool
}

func (s *liveCheckingStore) ApplyReading(_ context.Context, deviceID int64, cumulative, aux float64) (*rbtmodels.DeviceReading, error) {
	_, s.seen = s.live.Get("a1b2c3")
	return nil, errors.New("database unavailable")
}

func TestLiveStatusUpdatedBeforeStore(t *testing.T) {
	live := cache.NewLiveStatusStore()
	store := &liveCheckingStore{live: live}
	ing := New(testConfig(4, 1), store, live, nil, nil, nil, logger.NewNop())
	ing.startWorkers(context.Background())

	ing.handleMessage(nil, fakeMessage{topic: upTopic, payload: []byte(`{"object":{"CH1":5,"CH10":1}}`)})
	ing.Stop()

	require.True(t, store.seen)
}

func TestQueueFullDrops(t *testing.T) {
	ing := New(testConfig(1, 1), &liveCheckingStore{live: cache.NewLiveStatusStore()}, cache.NewLiveStatusStore(), nil, nil, nil, logger.NewNop())

	require.True(t, ing.enqueue(job{deviceEUI: "a1"}))
	require.False(t, ing.enqueue(job{deviceEUI: "a1"}))
	require.Equal(t, 1, ing.queueDepth())
}

func TestUplinkAfterStopIsDropped(t *testing.T) {
	h := newHarness(t)
	h.ing.Stop()

	require.NotPanics(t, func() {
		h.ing.handleMessage(nil, fakeMessage{topic: upTopic, payload: []byte(`{"object":{"CH1":5,"CH10":1}}`)})
	})
	require.False(t, h.ing.enqueue(job{deviceEUI: "a1b2c3"}))
	require.Equal(t, 0, h.repo.Count())
}

func TestShardIsStable(t *testing.T) {
	require.Equal(t, shard("a1b2c3", 8), shard("a1b2c3", 8))
	for _, eui := range []string{"a", "b", "c", "0102030405060708"} {
		n := shard(eui, 4)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 4)
	}
}

func TestRefreshRoster(t *testing.T) {
	seen := cache.NewRosterCache()
	ing := New(testConfig(4, 1), nil, cache.NewLiveStatusStore(), fakeRoster{err: errors.New("offline")}, seen, nil, logger.NewNop())
	ing.RefreshRoster(context.Background())
	_, _, ok := seen.Get()
	require.False(t, ok)

	ing.roster = fakeRoster{devices: []rbtmodels.RosterDevice{{DevEUI: "a1b2c3", Name: "robot-1"}}}
	ing.RefreshRoster(context.Background())
	devices, _, ok := seen.Get()
	require.True(t, ok)
	require.Len(t, devices, 1)
}
