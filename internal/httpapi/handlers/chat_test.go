package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/auth"
	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/config"
	"github.com/gopherchat/gopherchat/internal/httpapi/middleware"
)

type envelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func setupTestAPI(t *testing.T, upstream http.HandlerFunc) (*gin.Engine, *gorm.DB, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ai.ModelConfig{}, &chat.Session{}, &chat.Message{}, &chat.Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	if err := db.Create(&ai.ModelConfig{Name: "gpt-4o", Provider: ai.ProviderAzure, Deployment: "gpt-4o", Active: true}).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	reg := ai.NewRegistry()
	reg.Register(ai.ProviderAzure, func(ctx context.Context, deployment string) (ai.Provider, error) {
		return ai.NewAzureProvider(srv.URL, "test-key", deployment), nil
	})

	cfg := config.Config{JWTSecret: "test-secret"}
	gateway := ai.NewGateway(db, reg)
	h := &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chat.NewService(chat.NewRepo(db), gateway),
		Gateway: gateway,
	}

	r := gin.New()
	authed := r.Group("/")
	authed.Use(middleware.AuthRequired(cfg.JWTSecret))
	authed.POST("/chat/sessions", h.CreateChatSession)
	authed.GET("/chat/sessions", h.ListChatSessions)
	authed.GET("/chat/sessions/:session_id/messages", h.GetChatHistory)
	authed.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authed.POST("/chat/sessions/:session_id/regenerate", h.RegenerateLastMessage)
	authed.POST("/chat/messages", h.SendChatMessage)
	authed.GET("/chat/options", h.GetChatOptions)

	token, err := auth.SignJWT(1, cfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return r, db, token
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, w.Body.String())
	}
	return w, env
}

func azureReply(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": text}},
			},
		})
	}
}

func TestChatAPI_SendAndHistory(t *testing.T) {
	r, _, token := setupTestAPI(t, azureReply("Hello!"))

	w, env := doJSON(t, r, http.MethodPost, "/chat/sessions", token, gin.H{})
	if w.Code != http.StatusOK {
		t.Fatalf("create session: status %d body=%s", w.Code, w.Body.String())
	}
	sessionID, _ := env.Data["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in %v", env.Data)
	}

	w, env = doJSON(t, r, http.MethodPost, "/chat/messages", token, gin.H{
		"session_id":  sessionID,
		"message":     "Hi",
		"model":       "gpt-4o",
		"temperature": 0.7,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("send: status %d body=%s", w.Code, w.Body.String())
	}
	if env.Data["reply"] != "Hello!" {
		t.Fatalf("reply: %v", env.Data)
	}

	w, env = doJSON(t, r, http.MethodGet, "/chat/sessions/"+sessionID+"/messages", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: status %d", w.Code)
	}
	msgs, _ := env.Data["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("history: got %d messages", len(msgs))
	}

	// string temperatures are accepted too
	w, _ = doJSON(t, r, http.MethodPost, "/chat/messages", token, gin.H{
		"session_id":  sessionID,
		"message":     "again",
		"temperature": "0.2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("string temperature: status %d body=%s", w.Code, w.Body.String())
	}
}

func TestChatAPI_Errors(t *testing.T) {
	r, _, token := setupTestAPI(t, azureReply("ok"))

	// unauthorized
	w, _ := doJSON(t, r, http.MethodPost, "/chat/sessions", "", gin.H{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}

	_, env := doJSON(t, r, http.MethodPost, "/chat/sessions", token, gin.H{})
	sessionID, _ := env.Data["session_id"].(string)

	// bad temperature
	w, _ = doJSON(t, r, http.MethodPost, "/chat/messages", token, gin.H{
		"session_id":  sessionID,
		"message":     "Hi",
		"temperature": "hot",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad temperature: status %d", w.Code)
	}

	// unknown model
	w, env = doJSON(t, r, http.MethodPost, "/chat/messages", token, gin.H{
		"session_id":  sessionID,
		"message":     "Hi",
		"model":       "ghost",
		"temperature": 0.7,
	})
	if w.Code != http.StatusBadRequest || env.Code != 10012 {
		t.Fatalf("unknown model: status %d code %d", w.Code, env.Code)
	}

	// foreign session looks missing
	w, _ = doJSON(t, r, http.MethodGet, "/chat/sessions/does-not-exist/messages", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session: status %d", w.Code)
	}

	// nothing to regenerate yet
	w, _ = doJSON(t, r, http.MethodPost, "/chat/sessions/"+sessionID+"/regenerate", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty regenerate: status %d", w.Code)
	}
}

func TestChatAPI_RegenerateAndOptions(t *testing.T) {
	r, _, token := setupTestAPI(t, azureReply("answer"))

	_, env := doJSON(t, r, http.MethodPost, "/chat/sessions", token, gin.H{})
	sessionID, _ := env.Data["session_id"].(string)

	if w, _ := doJSON(t, r, http.MethodPost, "/chat/messages", token, gin.H{
		"session_id": sessionID, "message": "Hi", "temperature": 0.7,
	}); w.Code != http.StatusOK {
		t.Fatalf("send: status %d", w.Code)
	}

	w, env := doJSON(t, r, http.MethodPost, "/chat/sessions/"+sessionID+"/regenerate", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("regenerate: status %d body=%s", w.Code, w.Body.String())
	}
	if env.Data["reply"] != "answer" {
		t.Fatalf("regenerate reply: %v", env.Data)
	}

	// history still shows exactly one answer
	_, env = doJSON(t, r, http.MethodGet, "/chat/sessions/"+sessionID+"/messages", token, nil)
	msgs, _ := env.Data["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("history after regenerate: got %d messages", len(msgs))
	}

	w, env = doJSON(t, r, http.MethodGet, "/chat/options", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("options: status %d", w.Code)
	}
	models, _ := env.Data["models"].([]any)
	temps, _ := env.Data["temperatures"].([]any)
	if len(models) != 1 || models[0] != "gpt-4o" {
		t.Fatalf("models: %v", models)
	}
	if len(temps) != 3 {
		t.Fatalf("temperatures: %v", temps)
	}
}
