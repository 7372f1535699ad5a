package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sindi-homes/assistant/internal/model"
)

const conversationsCollection = "conversations"

// MongoStore stores each conversation as one document with embedded
// messages.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// OpenMongo connects to uri and uses the conversations collection of
// database.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(conversationsCollection),
	}, nil
}

// Migrate creates the listing and share-token indexes.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "profile_id", Value: 1}, {Key: "analytics.last_activity", Value: -1}}},
		{
			Keys:    bson.D{{Key: "sharing.token", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Create implements ConversationStore.
func (s *MongoStore) Create(ctx context.Context, conv *model.Conversation) error {
	conv.Version = 1
	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrExists
		}
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// Get implements ConversationStore.
func (s *MongoStore) Get(ctx context.Context, id, profileID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "profile_id": profileID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &conv, nil
}

// List implements ConversationStore.
func (s *MongoStore) List(ctx context.Context, profileID string, q model.ListQuery) ([]*model.Conversation, int, error) {
	filter := bson.M{"profile_id": profileID, "status": bson.M{"$ne": model.StatusDeleted}}
	if q.Status != "" {
		filter = bson.M{"profile_id": profileID, "status": q.Status}
	}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("counting conversations: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "analytics.last_activity", Value: -1}}).
		SetSkip(int64(q.Offset))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("listing conversations: %w", err)
	}

	var convs []*model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, 0, fmt.Errorf("decoding conversations: %w", err)
	}
	return convs, int(total), nil
}

// Update implements ConversationStore.
func (s *MongoStore) Update(ctx context.Context, conv *model.Conversation) error {
	next := conv.Clone()
	next.Version = conv.Version + 1

	res, err := s.coll.ReplaceOne(ctx, bson.M{
		"_id":        conv.ID,
		"profile_id": conv.ProfileID,
		"version":    conv.Version,
	}, next)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, conv.ID, conv.ProfileID); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	conv.Version = next.Version
	return nil
}

// FindByShareToken implements ConversationStore.
func (s *MongoStore) FindByShareToken(ctx context.Context, token string, now time.Time) (*model.Conversation, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	var conv model.Conversation
	err := s.coll.FindOne(ctx, bson.M{
		"sharing.token":      token,
		"sharing.is_shared":  true,
		"sharing.expires_at": bson.M{"$gt": now},
		"status":             bson.M{"$ne": model.StatusDeleted},
	}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding shared conversation: %w", err)
	}
	return &conv, nil
}

// Ping implements ConversationStore.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close implements ConversationStore.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
