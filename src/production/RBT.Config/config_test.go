package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_USER", "postgres")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("APPLICATION_ID", "0a5171af-5f2b-4e15-bd17-18f8d4baf716")
	t.Setenv("GATEWAY_ID", "0016c001ff1e7a17")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "5000", cfg.Server.Port)
	require.Equal(t, ReadingStorePostgres, cfg.ReadingStore)
	require.Equal(t, ThresholdPolicyLive, cfg.Scheduler.ThresholdPolicy)
	require.Equal(t, 1, cfg.NetworkServer.FPort)
	require.Equal(t, "tcp://localhost:1883", cfg.GetMQTTBrokerURL())
	require.Equal(t, "application/0a5171af-5f2b-4e15-bd17-18f8d4baf716/device/+/event/+", cfg.GetUplinkTopic())
	require.False(t, cfg.HasStaticLocation())
}

func TestLoadSharedGroupTopic(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MQTT_SHARED_GROUP", "ingestors")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "$share/ingestors/application/0a5171af-5f2b-4e15-bd17-18f8d4baf716/device/+/event/+", cfg.GetUplinkTopic())
}

func TestLoadRejectsMissingApplication(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APPLICATION_ID", "")

	_, err := Load()
	require.ErrorContains(t, err, "APPLICATION_ID")
}

func TestLoadRejectsMissingLocation(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GATEWAY_ID", "")

	_, err := Load()
	require.ErrorContains(t, err, "GATEWAY_ID")

	t.Setenv("WEATHER_LATITUDE", "51.5")
	t.Setenv("WEATHER_LONGITUDE", "-0.12")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.HasStaticLocation())
}

func TestLoadRejectsBadHumidity(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HUMIDITY_THRESHOLD", "101")

	_, err := Load()
	require.ErrorContains(t, err, "HUMIDITY_THRESHOLD")
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SCHEDULER_THRESHOLD_POLICY", "sometimes")

	_, err := Load()
	require.ErrorContains(t, err, "SCHEDULER_THRESHOLD_POLICY")
}

func TestMemoryStoreSkipsDatabaseCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("READING_STORE", "memory")
	t.Setenv("POSTGRES_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ReadingStoreMemory, cfg.ReadingStore)
}
