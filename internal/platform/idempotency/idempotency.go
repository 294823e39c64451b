// Package idempotency remembers the response of a mutating request under a
// client supplied Idempotency-Key so a retried submission is replayed
// instead of applied twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rittima/CRM-Team-sub000/internal/platform/mongodb"
	"github.com/rittima/CRM-Team-sub000/internal/platform/querier"
)

var ErrConflict = errors.New("idempotency key was used with a different request")

type Store interface {
	// Check returns the stored response for the key. It fails with ErrConflict
	// when the key was recorded for a different request hash.
	Check(ctx context.Context, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error)
	Save(ctx context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type PGStore struct {
	DB querier.Querier
}

func NewPGStore(q querier.Querier) *PGStore {
	return &PGStore{DB: q}
}

func (s *PGStore) Check(ctx context.Context, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	var storedHash string
	var stored json.RawMessage
	err := s.DB.QueryRow(ctx, `
    SELECT request_hash, response_json
    FROM idempotency_keys
    WHERE user_id = $1 AND key = $2 AND endpoint = $3
  `, userID, key, endpoint).Scan(&storedHash, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if storedHash != requestHash {
		return nil, false, ErrConflict
	}
	return stored, true, nil
}

func (s *PGStore) Save(ctx context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error {
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO idempotency_keys (user_id, key, endpoint, request_hash, response_json)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (user_id, key, endpoint)
    DO UPDATE SET response_json = EXCLUDED.response_json
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
  `, userID, key, endpoint, requestHash, response)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

type record struct {
	UserID      string    `bson:"user_id"`
	Key         string    `bson:"key"`
	Endpoint    string    `bson:"endpoint"`
	RequestHash string    `bson:"request_hash"`
	Response    string    `bson:"response_json"`
	CreatedAt   time.Time `bson:"created_at"`
}

type MongoStore struct {
	keys *mongo.Collection
}

// NewMongoStore keeps keys for a week through a TTL index.
func NewMongoStore(ctx context.Context, client *mongodb.Client) (*MongoStore, error) {
	keys := client.Collection("idempotency_keys")
	if _, err := keys.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "key", Value: 1}, {Key: "endpoint", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32((7 * 24 * time.Hour).Seconds())),
		},
	}); err != nil {
		return nil, fmt.Errorf("create idempotency indexes: %w", err)
	}
	return &MongoStore{keys: keys}, nil
}

func (s *MongoStore) Check(ctx context.Context, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	var rec record
	err := s.keys.FindOne(ctx, bson.M{"user_id": userID, "key": key, "endpoint": endpoint}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.RequestHash != requestHash {
		return nil, false, ErrConflict
	}
	return json.RawMessage(rec.Response), true, nil
}

func (s *MongoStore) Save(ctx context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error {
	_, err := s.keys.InsertOne(ctx, record{
		UserID:      userID,
		Key:         key,
		Endpoint:    endpoint,
		RequestHash: requestHash,
		Response:    string(response),
		CreatedAt:   time.Now().UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}
