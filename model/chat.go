package model

import "time"

// Chat 表示一个会话，拥有一组有序的消息
type Chat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	PublicID  string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"id"`
	OwnerKey  string    `gorm:"type:varchar(255);not null;index:idx_owner_created_at" json:"owner"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_owner_created_at" json:"created_at"`
}
