package ingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	cache "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Cache"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	counter "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Counter"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	metrics "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Metrics"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	interfaces "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Interfaces"
)

// ReadingStore applies one cumulative counter reading
type ReadingStore interface {
	ApplyReading(ctx context.Context, deviceID int64, cumulative, aux float64) (*rbtmodels.DeviceReading, error)
}

// RosterSource lists the devices registered for the application
type RosterSource interface {
	ListDevices(ctx context.Context) ([]rbtmodels.RosterDevice, error)
}

type job struct {
	topic      string
	deviceEUI  string
	payload    []byte
	receivedAt time.Time
}

// Ingestor subscribes to fleet uplinks and feeds the live status cache and the
// counter store. The broker callback only enqueues; workers do the rest. Each
// device always maps to the same worker so its uplinks are applied in order.
type Ingestor struct {
	mqttCfg    config.MQTTConfig
	ingestCfg  config.IngestConfig
	brokerURL  string
	topic      string
	store      ReadingStore
	live       *cache.LiveStatusStore
	roster     RosterSource
	rosterSeen *cache.RosterCache
	archive    interfaces.UplinkArchive
	archiveTTL time.Duration

	mqttClient mqtt.Client
	queues     []chan job
	queueMu    sync.RWMutex
	stopping   bool
	wg         sync.WaitGroup
	stopOnce   sync.Once
	logger     *logger.Logger
	now        func() time.Time
}

// New creates an ingestor. archive may be nil.
func New(cfg *config.FleetConfig, store ReadingStore, live *cache.LiveStatusStore, roster RosterSource, rosterSeen *cache.RosterCache, archive interfaces.UplinkArchive, log *logger.Logger) *Ingestor {
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	perWorker := cfg.Ingest.QueueSize / workers
	if perWorker <= 0 {
		perWorker = 1
	}

	queues := make([]chan job, workers)
	for n := range queues {
		queues[n] = make(chan job, perWorker)
	}

	return &Ingestor{
		mqttCfg:    cfg.MQTT,
		ingestCfg:  cfg.Ingest,
		brokerURL:  cfg.GetMQTTBrokerURL(),
		topic:      cfg.GetUplinkTopic(),
		store:      store,
		live:       live,
		roster:     roster,
		rosterSeen: rosterSeen,
		archive:    archive,
		archiveTTL: cfg.Archive.WriteTimeout,
		queues:     queues,
		logger:     log.WithComponent("ingestor"),
		now:        time.Now,
	}
}

// Start launches the workers and connects to the broker. With connect retry
// enabled the first connection is attempted in the background.
func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.brokerURL).
		SetClientID(i.mqttCfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(i.mqttCfg.KeepAlive).
		SetPingTimeout(i.mqttCfg.PingTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(i.mqttCfg.MaxReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(i.mqttCfg.ConnectRetryInterval).
		SetCleanSession(false)

	if i.mqttCfg.BrokerUser != "" {
		opts.SetUsername(i.mqttCfg.BrokerUser)
		opts.SetPassword(i.mqttCfg.BrokerPass)
	}

	if i.mqttCfg.UseTLS {
		tlsCfg, err := tlsConfig(i.mqttCfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.WithError(err).Error("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		i.logger.Info("MQTT client reconnecting")
	}
	opts.OnConnect = func(c mqtt.Client) {
		i.logger.WithField("topic", i.topic).Info("MQTT connected, subscribing to topic")
		if token := c.Subscribe(i.topic, 1, i.handleMessage); token.Wait() && token.Error() != nil {
			i.logger.WithField("topic", i.topic).ErrorWithError(token.Error(), "Failed to subscribe to MQTT topic")
		}
		go i.RefreshRoster(ctx)
	}

	i.startWorkers(ctx)

	i.mqttClient = mqtt.NewClient(opts)
	i.mqttClient.Connect()
	return nil
}

// Stop disconnects from the broker and drains queued uplinks
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		if i.mqttClient != nil {
			i.mqttClient.Disconnect(500)
		}
		// handlers still in flight after Disconnect see stopping and drop
		i.queueMu.Lock()
		i.stopping = true
		for _, q := range i.queues {
			close(q)
		}
		i.queueMu.Unlock()
		i.wg.Wait()
		i.logger.Info("Ingestor stopped")
	})
}

func (i *Ingestor) IsConnected() bool {
	return i.mqttClient != nil && i.mqttClient.IsConnected()
}

// RefreshRoster fetches the device roster. Failure is logged and otherwise ignored.
func (i *Ingestor) RefreshRoster(ctx context.Context) {
	if i.roster == nil {
		return
	}
	devices, err := i.roster.ListDevices(ctx)
	if err != nil {
		i.logger.WithError(err).Warn("Failed to fetch device roster")
		return
	}
	if i.rosterSeen != nil {
		i.rosterSeen.Set(devices, i.now())
	}
	i.logger.WithField("devices", len(devices)).Info("Monitoring devices")
}

func (i *Ingestor) startWorkers(ctx context.Context) {
	for n, q := range i.queues {
		i.wg.Add(1)
		go func(worker int, q <-chan job) {
			defer i.wg.Done()
			for j := range q {
				i.process(ctx, j)
			}
			i.logger.WithField("worker", worker).Debug("Ingest worker drained")
		}(n, q)
	}
}

func (i *Ingestor) handleMessage(_ mqtt.Client, m mqtt.Message) {
	_, deviceEUI, kind, err := ParseTopic(m.Topic())
	if err != nil {
		metrics.IncIngestDropped(metrics.DropDecode)
		i.logger.WithField("topic", m.Topic()).Warn("Ignoring message on unexpected topic")
		return
	}
	metrics.IncUplinkReceived(kind)
	if kind != rbtmodels.EventKindUp {
		i.logger.WithFields(map[string]interface{}{"device_eui": deviceEUI, "kind": kind}).Debug("Ignoring non-uplink event")
		return
	}

	i.enqueue(job{
		topic:      m.Topic(),
		deviceEUI:  deviceEUI,
		payload:    m.Payload(),
		receivedAt: i.now().UTC(),
	})
}

// enqueue never blocks the broker callback; a full queue drops the uplink
func (i *Ingestor) enqueue(j job) bool {
	i.queueMu.RLock()
	defer i.queueMu.RUnlock()
	if i.stopping {
		metrics.IncIngestDropped(metrics.DropStopping)
		i.logger.WithField("device_eui", j.deviceEUI).Debug("Ingestor stopping, dropping uplink")
		return false
	}

	q := i.queues[shard(j.deviceEUI, len(i.queues))]
	select {
	case q <- j:
		metrics.SetIngestQueueDepth(i.queueDepth())
		return true
	default:
		metrics.IncIngestDropped(metrics.DropQueueFull)
		i.logger.WithField("device_eui", j.deviceEUI).Warn("Ingest queue full, dropping uplink")
		return false
	}
}

func (i *Ingestor) process(ctx context.Context, j job) {
	log := i.logger.WithField("device_eui", j.deviceEUI)

	event, err := DecodeUplink(j.topic, j.payload, j.receivedAt)
	if err != nil {
		metrics.IncIngestDropped(metrics.DropDecode)
		log.WithError(err).Warn("Dropping malformed uplink")
		return
	}

	i.live.Update(event.DeviceEUI, event.Object, event.ReceivedAt)
	i.archiveEvent(ctx, *event)

	deviceID, err := DeviceID(event.Object)
	if err != nil {
		metrics.IncIngestDropped(metrics.DropDecode)
		log.WithError(err).Warn("Dropping uplink without device id")
		return
	}
	cumulative := ChannelFloat(event.Object, rbtmodels.ChannelCumulative)
	aux := ChannelFloat(event.Object, rbtmodels.ChannelAux)

	storeCtx, cancel := withTimeout(ctx, i.ingestCfg.StoreTimeout)
	defer cancel()

	reading, err := i.store.ApplyReading(storeCtx, deviceID, cumulative, aux)
	switch {
	case err == nil:
		metrics.ObserveReadingStored(time.Since(j.receivedAt))
		log.WithFields(map[string]interface{}{
			"device_id": deviceID,
			"delta":     reading.Delta,
			"id":        reading.ID,
		}).Debug("Reading stored")
	case errors.Is(err, counter.ErrNoDevice):
		metrics.IncIngestDropped(metrics.DropNoDevice)
	case errors.Is(err, counter.ErrNonFinite):
		metrics.IncIngestDropped(metrics.DropNonFinite)
	default:
		metrics.IncIngestDropped(metrics.DropStoreError)
		metrics.ObserveIngestFailure(time.Since(j.receivedAt))
		log.WithField("device_id", deviceID).ErrorWithError(err, "Failed to store reading")
	}
}

func (i *Ingestor) archiveEvent(ctx context.Context, event rbtmodels.UplinkEvent) {
	if i.archive == nil {
		return
	}
	archiveCtx, cancel := withTimeout(ctx, i.archiveTTL)
	defer cancel()
	if err := i.archive.Archive(archiveCtx, event); err != nil {
		i.logger.WithField("device_eui", event.DeviceEUI).WithError(err).Warn("Failed to archive uplink")
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (i *Ingestor) queueDepth() int {
	depth := 0
	for _, q := range i.queues {
		depth += len(q)
	}
	return depth
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
