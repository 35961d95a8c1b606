package model

import "time"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// ParsePlan maps any input to a known plan, defaulting to free.
func ParsePlan(s string) Plan {
	if s == string(PlanPro) {
		return PlanPro
	}
	return PlanFree
}

// Identity 表示一个请求者，邮箱或者游客令牌
type Identity struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"type:varchar(255);not null;unique" json:"key"`
	Plan      Plan      `gorm:"type:varchar(16);not null;default:free" json:"plan"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
