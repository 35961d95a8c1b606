package model

import "time"

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint      `json:"chat_id" gorm:"index:idx_chat_id_created_at"`
	Sender    Sender    `gorm:"type:varchar(16)" json:"sender"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_chat_id_created_at"`
}
