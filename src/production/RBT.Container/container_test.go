package container

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	implementation "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Implementation"
)

func TestMemoryReadingRepositoryNeedsNoDatabase(t *testing.T) {
	c := NewContainerWithConfig(&config.FleetConfig{ReadingStore: config.ReadingStoreMemory}, logger.NewNop())

	repo, err := c.ReadingRepository()
	require.NoError(t, err)
	require.IsType(t, &implementation.MemoryReadingRepository{}, repo)
	require.False(t, c.UsesPostgres())
}

func TestArchiveDisabledWithoutURI(t *testing.T) {
	c := NewContainerWithConfig(&config.FleetConfig{}, logger.NewNop())
	require.Nil(t, c.UplinkArchive())
}

func TestShutdownRunsCleanupInReverse(t *testing.T) {
	c := NewContainerWithConfig(&config.FleetConfig{}, logger.NewNop())

	var order []int
	c.AddCleanupFunc(func() error { order = append(order, 1); return nil })
	c.AddCleanupFunc(func() error { order = append(order, 2); return errors.New("ignored") })
	c.AddCleanupFunc(func() error { order = append(order, 3); return nil })

	require.NoError(t, c.Shutdown(context.Background()))
	require.Equal(t, []int{3, 2, 1}, order)

	// a second shutdown has nothing left to run
	require.NoError(t, c.Shutdown(context.Background()))
	require.Equal(t, []int{3, 2, 1}, order)
}
