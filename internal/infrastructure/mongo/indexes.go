package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collMachines            = "machines"
	collJobs                = "jobs"
	collJobRuns             = "job_runs"
	collCommands            = "commands"
	collNotificationConfigs = "notification_configs"
)

// EnsureIndexes creates all required indexes. The unique index on
// (job_id, scheduled_for) is what makes the run claim race-free; failure
// here is fatal at startup.
func EnsureIndexes(ctx context.Context, db *DB) error {
	d := db.Database()

	type indexSet struct {
		coll   string
		models []mongo.IndexModel
	}

	sets := []indexSet{
		{collMachines, []mongo.IndexModel{
			{Keys: bson.D{{Key: "machine_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "last_online_minute", Value: 1}}},
		}},
		{collJobs, []mongo.IndexModel{
			{Keys: bson.D{{Key: "enabled", Value: 1}, {Key: "hour", Value: 1}, {Key: "minute", Value: 1}}},
			{Keys: bson.D{{Key: "enabled", Value: 1}, {Key: "schedules.hour", Value: 1}, {Key: "schedules.minute", Value: 1}}},
		}},
		{collJobRuns, []mongo.IndexModel{
			{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "scheduled_for", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{collCommands, []mongo.IndexModel{
			{Keys: bson.D{{Key: "target", Value: 1}, {Key: "created_at", Value: 1}}},
		}},
	}

	for _, s := range sets {
		if _, err := d.Collection(s.coll).Indexes().CreateMany(ctx, s.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", s.coll, err)
		}
	}
	return nil
}
