package mongo

import (
	"context"
	"errors"

	"github.com/fleetcron/fleetcron/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type JobRepository struct {
	coll *mongo.Collection
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{coll: db.Database().Collection(collJobs)}
}

func (r *JobRepository) ListEnabled(ctx context.Context) ([]*domain.Job, error) {
	cur, err := r.coll.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, domain.NewStoreError("list enabled jobs", err)
	}
	defer cur.Close(ctx)

	var jobs []*domain.Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, domain.NewStoreError("decode jobs", err)
	}
	return jobs, nil
}

func (r *JobRepository) GetEnabled(ctx context.Context, id primitive.ObjectID) (*domain.Job, error) {
	var job domain.Job
	err := r.coll.FindOne(ctx, bson.M{"_id": id, "enabled": true}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrJobNotFound
		}
		return nil, domain.NewStoreError("get job", err)
	}
	return &job, nil
}
