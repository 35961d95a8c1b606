package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"morado/model"
	"morado/platform"
	"morado/repository"
)

var logger = platform.Logger

const (
	chatTitleMaxRunes = 20
	chatTitleEllipsis = "..."

	// SystemPrompt frames every provider call. The persona rules mirror
	// what the front end expects from Morado AI.
	SystemPrompt = "You are Morado AI, a warm and helpful assistant. " +
		"Answer in the language the user writes in, keep replies short and " +
		"friendly, and never claim to be a human."

	// FallbackEmptyReply is substituted when the provider answers but no
	// text can be extracted.
	FallbackEmptyReply = "I'm a bit tired right now 😊 Please try again later."

	// FallbackProviderDown is returned and persisted when the provider
	// call fails. The request still succeeds from the caller's view.
	FallbackProviderDown = "✔️ Connection error 😊 Free-tier limit may be exhausted."
)

// ErrChatNotFound mirrors the repository sentinel so controllers only
// import the service package.
var ErrChatNotFound = repository.ErrChatNotFound

// Reply is what a handled message returns to the front end.
type Reply struct {
	Text      string `json:"reply"`
	ChatID    string `json:"chatId"`
	ChatTitle string `json:"chatTitle"`
}

// ChatService owns conversation state: it resolves the target chat,
// appends the user message, replays the full history to the provider and
// appends the reply. Failure policy: when the provider is unavailable a
// fixed fallback reply is returned AND persisted as the assistant
// message, so history stays gapless and the caller sees a 200.
type ChatService struct {
	repo        repository.ChatRepository
	provider    Provider
	model       string
	temperature float64
	callTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*identityLock
}

func NewChatService(repo repository.ChatRepository, provider Provider, model string) *ChatService {
	return &ChatService{
		repo:        repo,
		provider:    provider,
		model:       model,
		temperature: 0.7,
		callTimeout: 60 * time.Second,
		locks:       make(map[string]*identityLock),
	}
}

type identityLock struct {
	sync.Mutex
	refs int
}

// acquire takes the mutex serializing all writes for one identity.
// Without it two concurrent requests can both miss the latest chat and
// both create one, or interleave their message appends. Entries are
// reference-counted so the map only holds identities with requests in
// flight.
func (s *ChatService) acquire(identityKey string) *identityLock {
	s.mu.Lock()
	lock, ok := s.locks[identityKey]
	if !ok {
		lock = &identityLock{}
		s.locks[identityKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return lock
}

func (s *ChatService) release(identityKey string, lock *identityLock) {
	lock.Unlock()
	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, identityKey)
	}
	s.mu.Unlock()
}

// MakeChatTitle derives a chat title from the first user message: a
// 20-rune prefix with an ellipsis marker when truncated.
func MakeChatTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= chatTitleMaxRunes {
		return text
	}
	return string(runes[:chatTitleMaxRunes]) + chatTitleEllipsis
}

func (s *ChatService) resolveChat(identityKey, chatPublicID, text string) (*model.Chat, error) {
	if chatPublicID != "" {
		chat, err := s.repo.GetChat(chatPublicID)
		if err != nil {
			return nil, err
		}
		if chat.OwnerKey != identityKey {
			return nil, ErrChatNotFound
		}
		return chat, nil
	}

	chat, err := s.repo.LatestChat(identityKey)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		return chat, nil
	}
	return s.repo.CreateChat(identityKey, MakeChatTitle(text))
}

func (s *ChatService) buildPrompt(chatID uint) (CompletionRequest, error) {
	messages, err := s.repo.ListMessages(chatID)
	if err != nil {
		return CompletionRequest{}, err
	}
	history := make([]PromptMessage, 0, len(messages))
	for _, message := range messages {
		history = append(history, PromptMessage{Sender: message.Sender, Content: message.Content})
	}
	return CompletionRequest{
		System:      SystemPrompt,
		History:     history,
		Model:       s.model,
		Temperature: s.temperature,
	}, nil
}

// HandleMessage runs one conversation turn for identityKey. An empty
// chatPublicID reuses the identity's most recent chat or creates one.
func (s *ChatService) HandleMessage(ctx context.Context, identityKey string, plan model.Plan, chatPublicID, text string) (*Reply, error) {
	return s.handle(ctx, identityKey, plan, chatPublicID, text, nil)
}

// HandleMessageStream behaves like HandleMessage but forwards token
// chunks through onDelta as the provider produces them.
func (s *ChatService) HandleMessageStream(ctx context.Context, identityKey string, plan model.Plan, chatPublicID, text string, onDelta func(string) error) (*Reply, error) {
	return s.handle(ctx, identityKey, plan, chatPublicID, text, onDelta)
}

func (s *ChatService) handle(ctx context.Context, identityKey string, plan model.Plan, chatPublicID, text string, onDelta func(string) error) (*Reply, error) {
	if _, err := s.repo.EnsureIdentity(identityKey, plan); err != nil {
		return nil, err
	}

	lock := s.acquire(identityKey)
	defer s.release(identityKey, lock)

	chat, err := s.resolveChat(identityKey, chatPublicID, text)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.AppendMessage(chat.ID, model.SenderUser, text); err != nil {
		return nil, err
	}

	prompt, err := s.buildPrompt(chat.ID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	var replyText string
	deliveryFailed := false
	if onDelta != nil {
		forward := func(chunk string) error {
			if deltaErr := onDelta(chunk); deltaErr != nil {
				deliveryFailed = true
				return deltaErr
			}
			return nil
		}
		replyText, err = s.provider.CompleteStream(callCtx, prompt, forward)
	} else {
		replyText, err = s.provider.Complete(callCtx, prompt)
	}
	if err != nil {
		if deliveryFailed {
			// The provider was fine, the client connection was not.
			// Keep whatever reply accumulated, not a misleading fallback.
			if replyText != "" {
				if _, appendErr := s.repo.AppendMessage(chat.ID, model.SenderAssistant, replyText); appendErr != nil {
					logger.Warnf("partial reply not persisted, chat %s has a dangling user message: %s", chat.PublicID, appendErr)
				}
			}
			return nil, fmt.Errorf("reply delivery failed for chat %s: %w", chat.PublicID, err)
		}
		if errors.Is(err, ErrEmptyCompletion) {
			replyText = FallbackEmptyReply
		} else {
			logger.Warnf("provider call failed for chat %s: %s", chat.PublicID, err)
			replyText = FallbackProviderDown
		}
	}

	if _, err := s.repo.AppendMessage(chat.ID, model.SenderAssistant, replyText); err != nil {
		// The user message is already committed; flag the dangling turn
		// so the gap is detectable.
		logger.Warnf("assistant reply not persisted, chat %s has a dangling user message: %s", chat.PublicID, err)
		return nil, fmt.Errorf("failed to persist reply for chat %s: %w", chat.PublicID, err)
	}

	return &Reply{Text: replyText, ChatID: chat.PublicID, ChatTitle: chat.Title}, nil
}

// ChatTitle is one entry of the chat list, newest first.
type ChatTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *ChatService) ListChats(identityKey string) ([]ChatTitle, error) {
	chats, err := s.repo.ListChats(identityKey)
	if err != nil {
		return nil, err
	}
	titles := make([]ChatTitle, 0, len(chats))
	for _, chat := range chats {
		titles = append(titles, ChatTitle{ID: chat.PublicID, Title: chat.Title})
	}
	return titles, nil
}

// HistoryEntry is one message of a chat history, oldest first.
type HistoryEntry struct {
	Sender  model.Sender `json:"sender"`
	Content string       `json:"content"`
}

func (s *ChatService) History(chatPublicID string) ([]HistoryEntry, error) {
	chat, err := s.repo.GetChat(chatPublicID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessages(chat.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(messages))
	for _, message := range messages {
		entries = append(entries, HistoryEntry{Sender: message.Sender, Content: message.Content})
	}
	return entries, nil
}

func (s *ChatService) RenameChat(chatPublicID, title string) error {
	return s.repo.RenameChat(chatPublicID, title)
}

func (s *ChatService) DeleteChat(chatPublicID string) error {
	return s.repo.DeleteChat(chatPublicID)
}
