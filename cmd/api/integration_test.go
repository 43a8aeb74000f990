package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/koomind/koomind-backend/internal/auth"
	"github.com/koomind/koomind-backend/internal/broker"
	"github.com/koomind/koomind-backend/internal/config"
	"github.com/koomind/koomind-backend/internal/data"
	"github.com/koomind/koomind-backend/internal/db"
	"github.com/koomind/koomind-backend/internal/messenger"
)

// TestRegisterLoginAndConverse drives the REST API against a real MongoDB.
func TestRegisterLoginAndConverse(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	dbClient, err := db.New(ctx, uri, "koomind_api_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	defer func() {
		_ = dbClient.UsersCollection().Drop(context.Background())
		_ = dbClient.ConversationsCollection().Drop(context.Background())
		_ = dbClient.MessagesCollection().Drop(context.Background())
		_ = dbClient.TasksCollection().Drop(context.Background())
		_ = dbClient.Close(context.Background())
	}()
	if err := dbClient.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	cfg := &config.Config{RateLimitRPM: 100, MessageRPM: 600, RequestTimeout: 10 * time.Second, CORSOrigins: "*"}
	logger := log.New(io.Discard)
	users := data.NewUsersStore(dbClient.UsersCollection())
	convs := data.NewConversationsStore(dbClient.ConversationsCollection())
	msgs := data.NewMessagesStore(dbClient.MessagesCollection())
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	bus := broker.NewLocal()
	defer bus.Close()

	srv := newServer(cfg, logger, serverDeps{
		Messenger: messenger.NewService(convs, msgs, users, messenger.Options{}, logger),
		Users:     users,
		Tasks:     data.NewTasksStore(dbClient.TasksCollection()),
		Tokens:    jwtMgr,
		Guard:     auth.NewGuard(jwtMgr),
		Hub:       NewHub(),
		Bus:       bus,
		DB:        dbClient,
	})
	defer srv.Stop()
	env := &testEnv{srv: srv, e: srv.routes(), jwt: jwtMgr}

	stamp := time.Now().UTC().Format("20060102-150405.000")
	register := func(name string) loginResponse {
		email := stamp + "-" + name + "@example.com"
		rec := env.do(t, http.MethodPost, "/api/create-user", "", map[string]string{
			"name": name, "email": email, "password": "testPass123",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create-user %s: %d %s", name, rec.Code, rec.Body.String())
		}
		rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": "testPass123"})
		if rec.Code != http.StatusOK {
			t.Fatalf("login %s: %d %s", name, rec.Code, rec.Body.String())
		}
		return decode[loginResponse](t, rec)
	}

	alice := register("alice")
	bob := register("bob")
	aliceToken, bobToken := alice.AccessToken, bob.AccessToken
	if alice.UserID.IsZero() || bob.UserID.IsZero() {
		t.Fatalf("login response missing userId")
	}

	rec := env.do(t, http.MethodPost, "/api/conversations", aliceToken, map[string]any{
		"type": "private", "participantId": bob.UserID.Hex(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create private: %d %s", rec.Code, rec.Body.String())
	}
	conv := decode[messenger.ConversationView](t, rec)

	rec = env.do(t, http.MethodPost, "/api/conversations", bobToken, map[string]any{
		"type": "private", "participantId": alice.UserID.Hex(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen private: expected 200, got %d", rec.Code)
	}
	if got := decode[messenger.ConversationView](t, rec).ID; got != conv.ID {
		t.Fatalf("reopen private returned %s, want %s", got.Hex(), conv.ID.Hex())
	}

	if _, err := srv.messenger.AppendMessage(ctx, conv.ID, alice.UserID, "hi bob"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations", bobToken, nil)
	list := decode[[]messenger.ConversationView](t, rec)
	if len(list) != 1 || list[0].UnreadCount != 1 {
		t.Fatalf("unexpected conversation list: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID.Hex()+"/seen", bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark seen: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/conversations", bobToken, nil)
	if got := decode[[]messenger.ConversationView](t, rec)[0].UnreadCount; got != 0 {
		t.Fatalf("unread after mark seen = %d", got)
	}

	rec = env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}
