package chat

import "time"

// Stored sender roles.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

type Session struct {
	ID     string `gorm:"type:varchar(36);primaryKey" json:"session_id"`
	UserID uint64 `gorm:"index;not null" json:"-"`
	// Title is set once, from the first user message, and never overwritten.
	Title string `gorm:"type:varchar(255);not null;default:''" json:"title"`
	// Processing is the per-(user, session) single-flight guard. It lives on
	// the row, not in process memory, so it holds across replicas.
	Processing bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Role      string `gorm:"type:varchar(16);not null" json:"role"`
	Content   string `gorm:"type:text;not null" json:"content"`
	// Model and Temperature record the parameters the exchange was produced
	// with; regeneration reuses them.
	Model       string  `gorm:"type:varchar(100);not null;default:''" json:"model"`
	Temperature float64 `gorm:"not null;default:0" json:"temperature"`
	// Regenerated transitions false -> true exactly once, never back.
	Regenerated bool      `gorm:"not null;default:false" json:"regenerated"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
