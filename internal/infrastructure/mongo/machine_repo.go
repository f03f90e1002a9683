package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MachineRepository persists fleet membership and heartbeats.
//
// The order value lives under several field names for backward
// compatibility (order, serial). Reads coalesce across the alias list in a
// single server-side $ifNull so the list is applied atomically with the
// read; writes project the value to every alias.
type MachineRepository struct {
	coll         *mongo.Collection
	orderAliases []string
	defaultOrder int
}

func NewMachineRepository(db *DB, orderAliases []string, defaultOrder int) *MachineRepository {
	return &MachineRepository{
		coll:         db.Database().Collection(collMachines),
		orderAliases: orderAliases,
		defaultOrder: defaultOrder,
	}
}

// orderExpr builds {$ifNull: ["$order", "$serial", ..., default]}.
func (r *MachineRepository) orderExpr() bson.M {
	args := bson.A{}
	for _, f := range r.orderAliases {
		args = append(args, "$"+f)
	}
	args = append(args, r.defaultOrder)
	return bson.M{"$ifNull": args}
}

func (r *MachineRepository) EnsureMachine(ctx context.Context, machineID, hostname string) (*domain.Machine, error) {
	now := time.Now().UTC()

	setOnInsert := bson.M{"machine_id": machineID}
	for _, f := range r.orderAliases {
		setOnInsert[f] = r.defaultOrder
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.D{
			{Key: "machine_id", Value: 1},
			{Key: "hostname", Value: 1},
			{Key: "last_online_minute", Value: 1},
			{Key: "last_seen", Value: 1},
			{Key: "order_value", Value: r.orderExpr()},
		})

	var m domain.Machine
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"machine_id": machineID},
		bson.M{
			"$setOnInsert": setOnInsert,
			"$set":         bson.M{"hostname": hostname, "last_seen": now},
		},
		opts,
	).Decode(&m)
	if err != nil {
		return nil, domain.NewStoreError("ensure machine", err)
	}
	return &m, nil
}

func (r *MachineRepository) UpdateHeartbeat(ctx context.Context, machineID string, minuteUTC time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"machine_id": machineID},
		bson.M{"$set": bson.M{
			"last_online_minute": minuteUTC,
			"last_seen":          time.Now().UTC(),
		}},
	)
	if err != nil {
		return domain.NewStoreError("update heartbeat", err)
	}
	return nil
}

func (r *MachineRepository) ListMachinesSorted(ctx context.Context) ([]*domain.Machine, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$addFields", Value: bson.M{"order_value": r.orderExpr()}}},
		bson.D{{Key: "$sort", Value: bson.D{
			{Key: "order_value", Value: 1},
			{Key: "machine_id", Value: 1},
		}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, domain.NewStoreError("list machines", err)
	}
	defer cur.Close(ctx)

	var machines []*domain.Machine
	if err := cur.All(ctx, &machines); err != nil {
		return nil, domain.NewStoreError("decode machines", fmt.Errorf("cursor: %w", err))
	}
	return machines, nil
}
