package users

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	Role      string    `json:"role" bson:"role"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Resolver is the lookup the leave core depends on.
type Resolver interface {
	Resolve(ctx context.Context, id string) (User, error)
}

type Store interface {
	Resolver
	Upsert(ctx context.Context, user User) error
}
