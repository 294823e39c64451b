package users

import (
	"context"
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

type PGStore struct {
	DB querier.Querier
}

func NewPGStore(q querier.Querier) *PGStore {
	return &PGStore{DB: q}
}

func (s *PGStore) Resolve(ctx context.Context, id string) (User, error) {
	var u User
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, email, role, created_at
    FROM users
    WHERE id = $1
  `, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *PGStore) Upsert(ctx context.Context, user User) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO users (id, name, email, role)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role
  `, user.ID, user.Name, user.Email, user.Role)
	return err
}

type MongoStore struct {
	users *mongo.Collection
}

func NewMongoStore(ctx context.Context, m *mongodb.Client) (*MongoStore, error) {
	users := m.Collection("users")
	if _, err := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("create users indexes: %w", err)
	}
	return &MongoStore{users: users}, nil
}

func (s *MongoStore) Resolve(ctx context.Context, id string) (User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *MongoStore) Upsert(ctx context.Context, user User) error {
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{
		"$set": bson.M{
			"name":  user.Name,
			"email": user.Email,
			"role":  user.Role,
		},
		"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
	}, options.UpdateOne().SetUpsert(true))
	return err
}
