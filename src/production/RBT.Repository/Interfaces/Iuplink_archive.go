package interfaces

import (
	"context"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// UplinkArchive keeps a raw copy of every decoded uplink
type UplinkArchive interface {
	Archive(ctx context.Context, event rbtmodels.UplinkEvent) error
}
