package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/parlor/parlor/internal/model"
)

// Collection names shared with the chat application.
const (
	transactionsCollection  = "transactions"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// MongoUsageStore reads usage data from the chat application's MongoDB.
type MongoUsageStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoUsageStore connects to uri and verifies the connection.
func NewMongoUsageStore(ctx context.Context, uri, database string) (*MongoUsageStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoUsageStore{client: client, db: client.Database(database)}, nil
}

// EnsureIndexes creates the indexes the usage queries rely on.
func (s *MongoUsageStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		transactionsCollection: {
			Keys:    bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("idx_user_created"),
		},
		conversationsCollection: {
			Keys:    bson.D{{Key: "user", Value: 1}},
			Options: options.Index().SetName("idx_user"),
		},
		messagesCollection: {
			Keys:    bson.D{{Key: "user", Value: 1}},
			Options: options.Index().SetName("idx_user"),
		},
	}

	for name, index := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateOne(ctx, index); err != nil {
			return fmt.Errorf("failed to create %s index: %w", name, err)
		}
	}
	return nil
}

// userMatch matches the user field whether the chat application stored it as
// an ObjectId or as a plain string.
func userMatch(userID string) any {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return userID
	}
	return bson.M{"$in": bson.A{oid, userID}}
}

// idString renders ObjectIds as hex and anything else with fmt.
func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

type transactionDoc struct {
	ID         any        `bson:"_id"`
	User       any        `bson:"user"`
	CreatedAt  *time.Time `bson:"createdAt"`
	TokenType  string     `bson:"tokenType"`
	TokenValue float64    `bson:"tokenValue"`
	RawAmount  float64    `bson:"rawAmount"`
	Model      string     `bson:"model"`
}

// ListTransactionsSince returns the user's transactions created at or after
// since, plus those with no timestamp.
func (s *MongoUsageStore) ListTransactionsSince(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	filter := bson.M{
		"user": userMatch(userID),
		"$or": bson.A{
			bson.M{"createdAt": bson.M{"$gte": since.UTC()}},
			bson.M{"createdAt": nil},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := s.db.Collection(transactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cur.Close(ctx)

	txs := make([]model.Transaction, 0)
	for cur.Next(ctx) {
		var doc transactionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		txs = append(txs, model.Transaction{
			ID:         idString(doc.ID),
			UserID:     idString(doc.User),
			CreatedAt:  doc.CreatedAt,
			TokenType:  model.ParseTokenType(doc.TokenType),
			TokenValue: doc.TokenValue,
			RawAmount:  doc.RawAmount,
			Model:      doc.Model,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// CreateTransaction inserts a usage event. Used by seeding and tests.
func (s *MongoUsageStore) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	doc := bson.M{
		"_id":        tx.ID,
		"user":       tx.UserID,
		"createdAt":  tx.CreatedAt,
		"tokenType":  string(tx.TokenType),
		"tokenValue": tx.TokenValue,
		"rawAmount":  tx.RawAmount,
	}
	if tx.Model != "" {
		doc["model"] = tx.Model
	}
	if _, err := s.db.Collection(transactionsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// CountConversations returns the number of conversations owned by the user.
func (s *MongoUsageStore) CountConversations(ctx context.Context, userID string) (int64, error) {
	n, err := s.db.Collection(conversationsCollection).CountDocuments(ctx, bson.M{"user": userMatch(userID)})
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

// CountMessages returns the number of messages authored by the user.
func (s *MongoUsageStore) CountMessages(ctx context.Context, userID string) (int64, error) {
	n, err := s.db.Collection(messagesCollection).CountDocuments(ctx, bson.M{"user": userMatch(userID)})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Ping checks MongoDB connectivity.
func (s *MongoUsageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoUsageStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
