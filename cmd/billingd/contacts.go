package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/learnsphere/billing/pkg/notifier"
)

// mongoContactSource resolves notification recipients from the application's
// users collection. The billing subsystem never writes to it.
type mongoContactSource struct {
	users *mongo.Collection
}

func newMongoContactSource(db *mongo.Database) *mongoContactSource {
	return &mongoContactSource{users: db.Collection("users")}
}

func (s *mongoContactSource) Contact(ctx context.Context, userID uuid.UUID) (notifier.Contact, error) {
	var doc struct {
		Email string `bson:"email"`
		Name  string `bson:"name"`
	}
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notifier.Contact{}, fmt.Errorf("user %s has no profile", userID)
	}
	if err != nil {
		return notifier.Contact{}, fmt.Errorf("look up contact: %w", err)
	}
	return notifier.Contact{Email: doc.Email, Name: doc.Name}, nil
}
