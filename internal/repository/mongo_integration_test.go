//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parlor/parlor/internal/model"
	"github.com/parlor/parlor/internal/testutil"
)

func TestIntegrationMongoUsageStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	uri := testutil.RequireEnv(t, "MONGODB_URI")
	ctx := context.Background()

	dbName := testutil.UniqueID("parlor_test")
	store, err := NewMongoUsageStore(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close(context.Background())
	})

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	since := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)
	inWindow := since.Add(2 * time.Hour)
	beforeWindow := since.Add(-time.Hour)

	for _, tx := range []*model.Transaction{
		testutil.NewTestTransaction(t, "u1", model.TokenPrompt, -100, 500000, "gpt-4", &inWindow),
		testutil.NewTestTransaction(t, "u1", model.TokenCompletion, 50, 250000, "gpt-4", &since),
		testutil.NewTestTransaction(t, "u1", model.TokenCredits, 10, 0, "", nil),
		testutil.NewTestTransaction(t, "u1", model.TokenPrompt, 999, 0, "gpt-4", &beforeWindow),
		testutil.NewTestTransaction(t, "u2", model.TokenPrompt, 1, 0, "gpt-4", &inWindow),
	} {
		if err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
	}

	// Integer token values, as written by some clients, must decode too.
	if _, err := store.db.Collection(transactionsCollection).InsertOne(ctx, bson.M{
		"_id": "int-doc", "user": "u1", "createdAt": inWindow, "tokenType": "prompt", "tokenValue": int32(7), "rawAmount": int64(1000),
	}); err != nil {
		t.Fatalf("insert int doc: %v", err)
	}

	txs, err := store.ListTransactionsSince(ctx, "u1", since)
	if err != nil {
		t.Fatalf("ListTransactionsSince failed: %v", err)
	}
	if len(txs) != 4 {
		t.Fatalf("got %d transactions, want 4: %+v", len(txs), txs)
	}

	var untimed, ints int
	for _, tx := range txs {
		if tx.CreatedAt == nil {
			untimed++
		}
		if tx.TokenValue == 7 && tx.RawAmount == 1000 {
			ints++
		}
	}
	if untimed != 1 || ints != 1 {
		t.Errorf("untimed=%d ints=%d, want 1 and 1", untimed, ints)
	}

	if _, err := store.db.Collection(conversationsCollection).InsertMany(ctx, []any{
		bson.M{"user": "u1"}, bson.M{"user": "u1"}, bson.M{"user": "u2"},
	}); err != nil {
		t.Fatalf("insert conversations: %v", err)
	}
	if _, err := store.db.Collection(messagesCollection).InsertMany(ctx, []any{
		bson.M{"user": "u1"}, bson.M{"user": "u1"}, bson.M{"user": "u1"},
	}); err != nil {
		t.Fatalf("insert messages: %v", err)
	}

	convs, err := store.CountConversations(ctx, "u1")
	if err != nil || convs != 2 {
		t.Errorf("CountConversations = %d, %v; want 2", convs, err)
	}
	msgs, err := store.CountMessages(ctx, "u1")
	if err != nil || msgs != 3 {
		t.Errorf("CountMessages = %d, %v; want 3", msgs, err)
	}

	// The chat application stores user references as ObjectIds.
	owner := primitive.NewObjectID()
	if _, err := store.db.Collection(transactionsCollection).InsertOne(ctx, bson.M{
		"_id": primitive.NewObjectID(), "user": owner, "createdAt": inWindow, "tokenType": "prompt", "tokenValue": -20, "rawAmount": 20,
	}); err != nil {
		t.Fatalf("insert object id doc: %v", err)
	}
	if _, err := store.db.Collection(messagesCollection).InsertOne(ctx, bson.M{"user": owner}); err != nil {
		t.Fatalf("insert object id message: %v", err)
	}
	owned, err := store.ListTransactionsSince(ctx, owner.Hex(), since)
	if err != nil || len(owned) != 1 {
		t.Fatalf("ListTransactionsSince(objectid) = %+v, %v; want 1 transaction", owned, err)
	}
	if owned[0].UserID != owner.Hex() {
		t.Errorf("UserID = %q, want %q", owned[0].UserID, owner.Hex())
	}
	if n, err := store.CountMessages(ctx, owner.Hex()); err != nil || n != 1 {
		t.Errorf("CountMessages(objectid) = %d, %v; want 1", n, err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
