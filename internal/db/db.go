package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DatabaseName returns the database named by the URI path.
func DatabaseName(mongoURI string) (string, error) {
	uri, err := url.Parse(mongoURI)
	if err != nil {
		return "", fmt.Errorf("parse mongodb uri: %w", err)
	}

	dbName := strings.TrimPrefix(uri.Path, "/")
	if dbName == "" {
		return "", fmt.Errorf("mongodb uri has no database name")
	}
	return dbName, nil
}

// ConnectToDB connects and pings. Callers disconnect the returned client.
func ConnectToDB(ctx context.Context, mongoURI string) (*mongo.Database, error) {
	dbName, err := DatabaseName(mongoURI)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	log.Infof("mongodb connection established, database %s", dbName)
	return client.Database(dbName), nil
}

// CreateTTLIndexForCollection expires documents at their own expires_at time.
func CreateTTLIndexForCollection(ctx context.Context, db *mongo.Database, collectionName string) error {
	collection := db.Collection(collectionName)

	indexModel := mongo.IndexModel{
		Keys:    bson.M{"expires_at": 1},
		Options: options.Index().SetExpireAfterSeconds(0), // expiry is read from expires_at
	}

	if _, err := collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		return fmt.Errorf("create ttl index on %s: %w", collectionName, err)
	}
	return nil
}
