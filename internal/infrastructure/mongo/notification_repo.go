package mongo

import (
	"context"
	"errors"

	"github.com/fleetcron/fleetcron/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type NotificationRepository struct {
	coll *mongo.Collection
}

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{coll: db.Database().Collection(collNotificationConfigs)}
}

func (r *NotificationRepository) GetNotificationConfig(ctx context.Context) (*domain.NotificationConfig, error) {
	var nc domain.NotificationConfig
	err := r.coll.FindOne(ctx, bson.M{}).Decode(&nc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNoNotificationConfig
		}
		return nil, domain.NewStoreError("get notification config", err)
	}
	return &nc, nil
}
