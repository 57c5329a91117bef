package implementation

import (
	"context"
	"time"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoUplinkArchive struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoUplinkArchive(coll *mongo.Collection, timeout time.Duration) *MongoUplinkArchive {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MongoUplinkArchive{coll: coll, timeout: timeout}
}

func (a *MongoUplinkArchive) Archive(ctx context.Context, event rbtmodels.UplinkEvent) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := a.coll.InsertOne(ctx, event)
	return err
}
