package mongo

import (
	"context"
	"time"

	"github.com/fleetcron/fleetcron/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RunRepository struct {
	coll *mongo.Collection
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{coll: db.Database().Collection(collJobRuns)}
}

func runKeyFilter(key domain.RunKey) bson.M {
	return bson.M{"job_id": key.JobID, "scheduled_for": key.ScheduledFor}
}

// ClaimRun is the single-execution primitive: a conditional upsert that
// only matches an unclaimed (or self-claimed) run, backed by the unique
// (job_id, scheduled_for) index. Two racing agents produce exactly one
// winner; the loser hits either the filter mismatch or the duplicate-key
// error, both of which collapse to false.
func (r *RunRepository) ClaimRun(ctx context.Context, key domain.RunKey, claimant string, orderValue, position int) (bool, error) {
	filter := bson.M{
		"job_id":        key.JobID,
		"scheduled_for": key.ScheduledFor,
		"$or": bson.A{
			bson.M{"claimed_by": nil},
			bson.M{"claimed_by": claimant},
		},
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"job_id":        key.JobID,
			"scheduled_for": key.ScheduledFor,
		},
		"$set": bson.M{
			"claimed_by":              claimant,
			"claimed_at":              time.Now().UTC(),
			"executed_order_value":    orderValue,
			"executed_order_position": position,
			"status":                  domain.RunStatusRunning,
			"steps":                   bson.A{},
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var run domain.JobRun
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&run)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, domain.NewStoreError("claim run", err)
	}
	return run.ClaimedBy == claimant, nil
}

func (r *RunRepository) AppendStep(ctx context.Context, key domain.RunKey, step domain.StepLog) error {
	_, err := r.coll.UpdateOne(ctx, runKeyFilter(key), bson.M{"$push": bson.M{"steps": step}})
	if err != nil {
		return domain.NewStoreError("append step", err)
	}
	return nil
}

func (r *RunRepository) FinalizeRun(ctx context.Context, key domain.RunKey, status domain.RunStatus, start, end time.Time) error {
	_, err := r.coll.UpdateOne(ctx, runKeyFilter(key), bson.M{"$set": bson.M{
		"status":   status,
		"start_at": start,
		"end_at":   end,
	}})
	if err != nil {
		return domain.NewStoreError("finalize run", err)
	}
	return nil
}
