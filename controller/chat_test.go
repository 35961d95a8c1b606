package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morado/model"
	"morado/repository"
	"morado/service"
)

// fakeRepo is an in-memory ChatRepository so the handlers can be tested
// through real service wiring without a database.
type fakeRepo struct {
	chats    []*model.Chat
	messages map[uint][]*model.Message
	nextID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: make(map[uint][]*model.Message)}
}

func (r *fakeRepo) EnsureIdentity(key string, plan model.Plan) (*model.Identity, error) {
	return &model.Identity{Key: key, Plan: plan}, nil
}

func (r *fakeRepo) CreateChat(ownerKey, title string) (*model.Chat, error) {
	r.nextID++
	chat := &model.Chat{
		ID:       r.nextID,
		PublicID: fmt.Sprintf("chat-%d", r.nextID),
		OwnerKey: ownerKey,
		Title:    title,
	}
	r.chats = append(r.chats, chat)
	return chat, nil
}

func (r *fakeRepo) GetChat(publicID string) (*model.Chat, error) {
	for _, chat := range r.chats {
		if chat.PublicID == publicID {
			return chat, nil
		}
	}
	return nil, repository.ErrChatNotFound
}

func (r *fakeRepo) LatestChat(ownerKey string) (*model.Chat, error) {
	for i := len(r.chats) - 1; i >= 0; i-- {
		if r.chats[i].OwnerKey == ownerKey {
			return r.chats[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) AppendMessage(chatID uint, sender model.Sender, content string) (*model.Message, error) {
	message := &model.Message{ChatID: chatID, Sender: sender, Content: content}
	r.messages[chatID] = append(r.messages[chatID], message)
	return message, nil
}

func (r *fakeRepo) ListChats(ownerKey string) ([]*model.Chat, error) {
	var chats []*model.Chat
	for i := len(r.chats) - 1; i >= 0; i-- {
		if r.chats[i].OwnerKey == ownerKey {
			chats = append(chats, r.chats[i])
		}
	}
	return chats, nil
}

func (r *fakeRepo) ListMessages(chatID uint) ([]*model.Message, error) {
	return r.messages[chatID], nil
}

func (r *fakeRepo) RenameChat(publicID, title string) error {
	chat, err := r.GetChat(publicID)
	if err != nil {
		return err
	}
	chat.Title = title
	return nil
}

func (r *fakeRepo) DeleteChat(publicID string) error {
	for i, chat := range r.chats {
		if chat.PublicID == publicID {
			delete(r.messages, chat.ID)
			r.chats = append(r.chats[:i], r.chats[i+1:]...)
			return nil
		}
	}
	return repository.ErrChatNotFound
}

type fakeProvider struct {
	reply string
	err   error
}

func (p *fakeProvider) Complete(ctx context.Context, req service.CompletionRequest) (string, error) {
	return p.reply, p.err
}

func (p *fakeProvider) CompleteStream(ctx context.Context, req service.CompletionRequest, onDelta func(string) error) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if err := onDelta(p.reply); err != nil {
		return "", err
	}
	return p.reply, nil
}

func newTestRouter(repo repository.ChatRepository, provider service.Provider, limits map[model.Plan]service.PlanLimits) *gin.Engine {
	gin.SetMode(gin.TestMode)
	limiter := service.NewUsageLimiter()
	if limits != nil {
		limiter = service.NewUsageLimiterWithClock(limits, time.Now)
	}
	chats := service.NewChatService(repo, provider, "gpt-4o-mini")
	ctrl := NewChatController(limiter, chats)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/chat", ctrl.Chat)
	api.POST("/chat/stream", ctrl.ChatStream)
	api.POST("/chat/titles", ctrl.Titles)
	api.POST("/chat/history", ctrl.History)
	api.POST("/chat/rename", ctrl.Rename)
	api.POST("/chat/delete", ctrl.Delete)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatEndToEnd(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeProvider{reply: "Hi, I'm Morado."}, nil)

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "Hello there, how are you today?"})
	require.Equal(t, http.StatusOK, w.Code)

	var reply struct {
		Reply     string `json:"reply"`
		ChatID    string `json:"chatId"`
		ChatTitle string `json:"chatTitle"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "Hi, I'm Morado.", reply.Reply)
	assert.Equal(t, "Hello there, how are...", reply.ChatTitle)
	require.NotEmpty(t, reply.ChatID)

	// Round-trip: both turns are readable back in order.
	w = postJSON(t, router, "/api/chat/history", gin.H{"chatId": reply.ChatID})
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Messages []struct {
			Sender  string `json:"sender"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "user", history.Messages[0].Sender)
	assert.Equal(t, "assistant", history.Messages[1].Sender)

	w = postJSON(t, router, "/api/chat/titles", gin.H{"identity": "a@x.com"})
	require.Equal(t, http.StatusOK, w.Code)
	var titles struct {
		Chats []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &titles))
	require.Len(t, titles.Chats, 1)
	assert.Equal(t, reply.ChatID, titles.Chats[0].ID)
}

func TestChatMissingText(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestChatRateLimitReturnsFriendlyReply(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeProvider{reply: "hi"}, nil)

	for i := 0; i < 2; i++ {
		w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "hello"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), `"limited":true`)
	}

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"limited":true`)
	assert.Contains(t, w.Body.String(), "Too many requests")

	// The rejected request must not have appended a message.
	chat, err := repo.LatestChat("a@x.com")
	require.NoError(t, err)
	messages, err := repo.ListMessages(chat.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestChatQuotaLimitMessagesPerPlan(t *testing.T) {
	limits := map[model.Plan]service.PlanLimits{
		model.PlanFree: {RequestsPerDay: 0, RequestsPerMinute: 10},
		model.PlanPro:  {RequestsPerDay: 0, RequestsPerMinute: 10},
	}
	router := newTestRouter(newFakeRepo(), &fakeProvider{reply: "hi"}, limits)

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "plan": "free", "text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Upgrade to PRO")

	w = postJSON(t, router, "/api/chat", gin.H{"identity": "b@x.com", "plan": "pro", "text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Try again tomorrow")
}

func TestChatUnknownChatID(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "hello", "chatId": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryUnknownChat(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat/history", gin.H{"chatId": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteChatRemovesHistory(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "q1"})
	require.Equal(t, http.StatusOK, w.Code)
	var reply struct {
		ChatID string `json:"chatId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))

	w = postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "q2", "chatId": reply.ChatID})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, router, "/api/chat/delete", gin.H{"chatId": reply.ChatID})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, router, "/api/chat/history", gin.H{"chatId": reply.ChatID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRenameChat(t *testing.T) {
	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat", gin.H{"identity": "a@x.com", "text": "q1"})
	require.Equal(t, http.StatusOK, w.Code)
	var reply struct {
		ChatID string `json:"chatId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))

	w = postJSON(t, router, "/api/chat/rename", gin.H{"chatId": reply.ChatID, "title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)

	chat, err := repo.GetChat(reply.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", chat.Title)

	w = postJSON(t, router, "/api/chat/rename", gin.H{"chatId": "nope", "title": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatStreamEmitsDataLinesAndDone(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeProvider{reply: "streamed reply"}, nil)

	w := postJSON(t, router, "/api/chat/stream", gin.H{"identity": "a@x.com", "text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "data: streamed reply\n\n")
	assert.Contains(t, body, "data: [DONE]\n\n")
}

// brokenAppendRepo fails every write so handler error paths can be exercised.
type brokenAppendRepo struct {
	*fakeRepo
}

func (r *brokenAppendRepo) AppendMessage(chatID uint, sender model.Sender, content string) (*model.Message, error) {
	return nil, fmt.Errorf("insert failed")
}

func TestChatStreamPersistenceFailureBeforeStreamIsServerError(t *testing.T) {
	repo := &brokenAppendRepo{fakeRepo: newFakeRepo()}
	router := newTestRouter(repo, &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat/stream", gin.H{"identity": "a@x.com", "text": "hello"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "[DONE]")
	assert.Contains(t, w.Body.String(), "error")
}

func TestChatStreamUnknownChatIDIsJSONNotFound(t *testing.T) {
	router := newTestRouter(newFakeRepo(), &fakeProvider{reply: "hi"}, nil)

	w := postJSON(t, router, "/api/chat/stream", gin.H{"identity": "a@x.com", "text": "hello", "chatId": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	// No event-stream headers leaked before the error was known.
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "Chat not found")
}
