package model

import "time"

// User owns tasks. Users created through the bot carry their Telegram id;
// users created through the HTTP API have none.
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TelegramID *int64    `gorm:"uniqueIndex" json:"telegramId,omitempty"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName,omitempty"`
	Username   string    `json:"username,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
