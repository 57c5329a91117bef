package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

func TestLiveStatusLastWriteWins(t *testing.T) {
	store := NewLiveStatusStore()
	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	store.Update("a1", map[string]interface{}{"CH1": 12.0, "CH7": 0.0}, at)
	store.Update("a1", map[string]interface{}{"CH1": 12.0, "CH7": 3.0}, at.Add(time.Minute))

	status, ok := store.Get("a1")
	require.True(t, ok)
	require.Equal(t, 3.0, status.Fault)
	require.Equal(t, 12.0, status.Label)
	require.Equal(t, at.Add(time.Minute), status.LastUpdate)

	_, ok = store.Get("missing")
	require.False(t, ok)
}

func TestFaultsListsEveryDevice(t *testing.T) {
	store := NewLiveStatusStore()
	at := time.Now()

	store.Update("b2", map[string]interface{}{"CH1": 2.0, "CH7": 1.0}, at)
	store.Update("a1", map[string]interface{}{"CH1": 1.0, "CH7": 0.0}, at)
	store.Update("c3", map[string]interface{}{"CH10": 4.0}, at)

	faults := store.Faults()
	require.Len(t, faults, 3)
	require.Equal(t, "a1", faults[0].DeviceEUI)
	require.Equal(t, 1.0, faults[1].Fault)
	require.Nil(t, faults[2].Fault)
}

func TestLiveStatusConcurrentUpdates(t *testing.T) {
	store := NewLiveStatusStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eui := string(rune('a' + i%5))
			store.Update(eui, map[string]interface{}{"CH10": float64(i)}, time.Now())
			store.List()
		}(i)
	}
	wg.Wait()
	require.Equal(t, 5, store.Len())
}

func TestRosterCache(t *testing.T) {
	roster := NewRosterCache()
	_, _, ok := roster.Get()
	require.False(t, ok)

	at := time.Now()
	devices := []rbtmodels.RosterDevice{{DevEUI: "a1", Name: "robot-1"}}
	roster.Set(devices, at)
	devices[0].Name = "mutated"

	got, fetchedAt, ok := roster.Get()
	require.True(t, ok)
	require.Equal(t, at, fetchedAt)
	require.Equal(t, "robot-1", got[0].Name)
}
