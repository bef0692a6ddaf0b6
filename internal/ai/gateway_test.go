package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ModelConfig{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConfig(t *testing.T, db *gorm.DB, name, provider, deployment string, active bool) {
	t.Helper()
	cfg := ModelConfig{Name: name, Provider: provider, Deployment: deployment, Active: active}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func azureRegistry(endpoint, apiKey string) *Registry {
	reg := NewRegistry()
	reg.Register(ProviderAzure, func(ctx context.Context, deployment string) (Provider, error) {
		return NewAzureProvider(endpoint, apiKey, deployment), nil
	})
	return reg
}

func TestResolve_UnknownModel(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "gpt-4o", true)

	g := NewGateway(db, NewRegistry())
	if _, err := g.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("got %v, want ErrUnknownModel", err)
	}
	// inactive configs do not count
	seedConfig(t, db, "retired", ProviderAzure, "retired", false)
	if _, err := g.Resolve(context.Background(), "retired"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("inactive: got %v, want ErrUnknownModel", err)
	}
}

func TestResolve_NoModelAvailable(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "retired", ProviderAzure, "retired", false)

	g := NewGateway(db, NewRegistry())
	if _, err := g.Resolve(context.Background(), ""); !errors.Is(err, ErrNoModelAvailable) {
		t.Fatalf("got %v, want ErrNoModelAvailable", err)
	}
}

func TestResolve_DefaultPicksFirstActive(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "retired", ProviderAzure, "retired", false)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "gpt-4o-deploy", true)
	seedConfig(t, db, "gpt-4o-mini", ProviderAzure, "mini-deploy", true)

	g := NewGateway(db, NewRegistry())
	cfg, err := g.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Name != "gpt-4o" {
		t.Fatalf("default config: got %q", cfg.Name)
	}
}

func TestComplete_Azure(t *testing.T) {
	var gotPath, gotKey string
	var gotBody azureChatReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Mocked response"}},
			},
		})
	}))
	defer srv.Close()

	db := openTestDB(t)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "gpt-4o-deploy", true)
	g := NewGateway(db, azureRegistry(srv.URL, "secret-key"))

	msgs := []Message{{Role: "user", Content: "Hello"}}
	text, err := g.Complete(context.Background(), msgs, 0.7, "gpt-4o")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Mocked response" {
		t.Fatalf("text: got %q", text)
	}
	if gotPath != "/openai/deployments/gpt-4o-deploy/chat/completions?api-version=2024-06-01" {
		t.Fatalf("path: got %q", gotPath)
	}
	if gotKey != "secret-key" {
		t.Fatalf("api-key header: got %q", gotKey)
	}
	if gotBody.Temperature != 0.7 || len(gotBody.Messages) != 1 {
		t.Fatalf("body: %+v", gotBody)
	}
}

func TestComplete_EmptyChoicesIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	db := openTestDB(t)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "gpt-4o-deploy", true)
	g := NewGateway(db, azureRegistry(srv.URL, "k"))

	text, err := g.Complete(context.Background(), []Message{{Role: "user", Content: "Hi"}}, 0.2, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "" {
		t.Fatalf("text: got %q, want empty", text)
	}
}

func TestComplete_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	db := openTestDB(t)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "gpt-4o-deploy", true)
	g := NewGateway(db, azureRegistry(srv.URL, "k"))

	_, err := g.Complete(context.Background(), []Message{{Role: "user", Content: "Hi"}}, 0.7, "gpt-4o")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("got %v, want ErrUpstreamUnavailable", err)
	}
}

func TestComplete_UpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	db := openTestDB(t)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "gpt-4o-deploy", true)
	g := NewGateway(db, azureRegistry(srv.URL, "k"))

	_, err := g.Complete(context.Background(), []Message{{Role: "user", Content: "Hi"}}, 0.7, "gpt-4o")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("got %v, want ErrUpstreamUnavailable", err)
	}
}

func TestActiveModelNames(t *testing.T) {
	db := openTestDB(t)
	seedConfig(t, db, "gpt-4o", ProviderAzure, "d1", true)
	seedConfig(t, db, "retired", ProviderAzure, "d2", false)
	seedConfig(t, db, "llama3", ProviderOllama, "llama3:latest", true)

	g := NewGateway(db, NewRegistry())
	names, err := g.ActiveModelNames(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "gpt-4o" || names[1] != "llama3" {
		t.Fatalf("names: %v", names)
	}
}
