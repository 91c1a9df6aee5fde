package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/wishcard-services/internal/archivesvc/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionMatches = "matches"

// legacyLogIDIndex was unique on log_id in earlier deployments.
const legacyLogIDIndex = "log_id_1"

// mongo error codes for a missing namespace or index
const (
	codeNamespaceNotFound = 26
	codeIndexNotFound     = 27
)

func isMissingIndex(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return cmdErr.Code == codeNamespaceNotFound || cmdErr.Code == codeIndexNotFound
}

type ArchiveStore struct {
	coll *mongo.Collection
}

func NewArchiveStore(db *mongo.Database) *ArchiveStore {
	return &ArchiveStore{coll: db.Collection(CollectionMatches)}
}

// EnsureIndexes adds the unique event_id index used to drop replays.
// log_id is not unique: cardsvc can hand an id out again after a crash.
func (s *ArchiveStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.coll.Indexes().DropOne(ctx, legacyLogIDIndex); err != nil && !isMissingIndex(err) {
		return fmt.Errorf("drop %s index: %w", legacyLogIDIndex, err)
	}

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "event_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create event_id index: %w", err)
	}
	return nil
}

// Save inserts rec unless a record with the same event id already exists.
func (s *ArchiveStore) Save(ctx context.Context, rec models.MatchRecord) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"event_id": rec.EventID},
		bson.M{"$setOnInsert": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("archive match event %s: %w", rec.EventID, err)
	}
	return res.UpsertedCount == 1, nil
}

// DailyCounts groups matches since the given time by UTC day, oldest first.
func (s *ArchiveStore) DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	fallbackCount := bson.M{"$sum": bson.M{"$cond": bson.A{"$fallback", 1, 0}}}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"matched_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":      bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$matched_at"}},
			"count":    bson.M{"$sum": 1},
			"fallback": fallbackCount,
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily counts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.DailyCount
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode daily counts: %w", err)
	}
	return rows, nil
}
