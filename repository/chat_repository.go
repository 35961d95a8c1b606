package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"morado/model"
)

// ErrChatNotFound is returned when a chat id does not resolve to a stored chat.
var ErrChatNotFound = errors.New("chat not found")

// ChatRepository is the persistence boundary of the conversation state.
// Services depend on this interface so they can be tested without a database.
type ChatRepository interface {
	EnsureIdentity(key string, plan model.Plan) (*model.Identity, error)
	CreateChat(ownerKey, title string) (*model.Chat, error)
	GetChat(publicID string) (*model.Chat, error)
	LatestChat(ownerKey string) (*model.Chat, error)
	AppendMessage(chatID uint, sender model.Sender, content string) (*model.Message, error)
	ListChats(ownerKey string) ([]*model.Chat, error)
	ListMessages(chatID uint) ([]*model.Message, error)
	RenameChat(publicID, title string) error
	DeleteChat(publicID string) error
}

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// EnsureIdentity upserts the identity row, re-asserting the plan supplied
// with the current request. First write wins for everything else.
func (r *chatRepository) EnsureIdentity(key string, plan model.Plan) (*model.Identity, error) {
	identity := model.Identity{Key: key, Plan: plan}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"plan": plan}),
	}).Create(&identity).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert identity %s: %w", key, err)
	}

	var current model.Identity
	if err := r.db.Where("`key` = ?", key).First(&current).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch identity %s: %w", key, err)
	}
	return &current, nil
}

func (r *chatRepository) CreateChat(ownerKey, title string) (*model.Chat, error) {
	chat := model.Chat{
		PublicID: uuid.New().String(),
		OwnerKey: ownerKey,
		Title:    title,
	}
	if err := r.db.Create(&chat).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat for %s: %w", ownerKey, err)
	}
	return &chat, nil
}

func (r *chatRepository) GetChat(publicID string) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.Where("public_id = ?", publicID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to fetch chat %s: %w", publicID, err)
	}
	return &chat, nil
}

// LatestChat returns the owner's most recently created chat, or nil when
// the owner has no chats yet.
func (r *chatRepository) LatestChat(ownerKey string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.Where("owner_key = ?", ownerKey).
		Order("created_at DESC, id DESC").
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest chat for %s: %w", ownerKey, err)
	}
	return &chat, nil
}

func (r *chatRepository) AppendMessage(chatID uint, sender model.Sender, content string) (*model.Message, error) {
	message := model.Message{
		ChatID:  chatID,
		Sender:  sender,
		Content: content,
	}
	if err := r.db.Create(&message).Error; err != nil {
		return nil, fmt.Errorf("failed to append %s message to chat %d: %w", sender, chatID, err)
	}
	return &message, nil
}

func (r *chatRepository) ListChats(ownerKey string) ([]*model.Chat, error) {
	var chats []*model.Chat
	err := r.db.Where("owner_key = ?", ownerKey).
		Order("created_at DESC, id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats for %s: %w", ownerKey, err)
	}
	return chats, nil
}

func (r *chatRepository) ListMessages(chatID uint) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for chat %d: %w", chatID, err)
	}
	return messages, nil
}

func (r *chatRepository) RenameChat(publicID, title string) error {
	result := r.db.Model(&model.Chat{}).
		Where("public_id = ?", publicID).
		Update("title", title)
	if result.Error != nil {
		return fmt.Errorf("failed to rename chat %s: %w", publicID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes a chat and all of its messages in one transaction.
func (r *chatRepository) DeleteChat(publicID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var chat model.Chat
		if err := tx.Where("public_id = ?", publicID).First(&chat).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatNotFound
			}
			return fmt.Errorf("failed to fetch chat %s: %w", publicID, err)
		}
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages of chat %s: %w", publicID, err)
		}
		if err := tx.Delete(&chat).Error; err != nil {
			return fmt.Errorf("failed to delete chat %s: %w", publicID, err)
		}
		return nil
	})
}
