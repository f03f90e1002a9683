package mongo

import (
	"context"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CommandRepository struct {
	coll *mongo.Collection
}

func NewCommandRepository(db *DB) *CommandRepository {
	return &CommandRepository{coll: db.Database().Collection(collCommands)}
}

func (r *CommandRepository) PollCommandsSince(ctx context.Context, watermark time.Time, machineID string) ([]*domain.Command, error) {
	filter := bson.M{
		"target":     bson.M{"$in": bson.A{machineID, domain.CommandTargetAll}},
		"created_at": bson.M{"$gt": watermark},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, domain.NewStoreError("poll commands", err)
	}
	defer cur.Close(ctx)

	var cmds []*domain.Command
	if err := cur.All(ctx, &cmds); err != nil {
		return nil, domain.NewStoreError("decode commands", err)
	}
	return cmds, nil
}

func (r *CommandRepository) InsertCommand(ctx context.Context, cmdType domain.CommandType, target string) error {
	_, err := r.coll.InsertOne(ctx, domain.Command{
		Type:      cmdType,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.NewStoreError("insert command", err)
	}
	return nil
}
