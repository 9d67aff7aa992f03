// Package store is the durable side of chatmk: identities, messages,
// reactions, read receipts and profile status, persisted through gorm.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or message does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned when creating a username that is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// SearchLimit caps search results.
const SearchLimit = 50

// User is a registered identity.
type User struct {
	ID            uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	Username      string    `json:"username" gorm:"type:varchar(50);uniqueIndex;not null"`
	PasswordHash  string    `json:"-" gorm:"not null"`
	AvatarColor   string    `json:"avatar_color" gorm:"type:varchar(16);default:'#6366f1'"`
	Status        string    `json:"status" gorm:"type:varchar(32);default:'online'"`
	StatusMessage string    `json:"status_message" gorm:"type:varchar(255)"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is a persisted chat message. Recipient is either an identity or
// config.GroupRecipient. Deleted messages are kept and hidden from reads.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Sender    string    `gorm:"type:varchar(50);index;not null"`
	Recipient string    `gorm:"type:varchar(50);index;not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
	Edited    bool      `gorm:"not null;default:false"`
	Deleted   bool      `gorm:"index;not null;default:false"`
	ReplyTo   *int64
	FileURL   *string `gorm:"type:varchar(512)"`
	FileType  *string `gorm:"type:varchar(32)"`
}

// Reaction is one emoji left by one identity on one message.
type Reaction struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	MessageID int64     `gorm:"uniqueIndex:idx_reaction_unique;not null"`
	Username  string    `gorm:"type:varchar(50);uniqueIndex:idx_reaction_unique;not null"`
	Emoji     string    `gorm:"type:varchar(32);uniqueIndex:idx_reaction_unique;not null"`
	CreatedAt time.Time
}

// ReadReceipt records that an identity has read a message.
type ReadReceipt struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MessageID int64  `gorm:"uniqueIndex:idx_receipt_unique;not null"`
	Username  string `gorm:"type:varchar(50);uniqueIndex:idx_receipt_unique;not null"`
	ReadAt    time.Time
}

// UserStats is a registered user with the number of messages they sent.
type UserStats struct {
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int64     `json:"message_count"`
}

// Stats aggregates message and user counters for the admin API.
type Stats struct {
	TotalUsers      int64 `json:"total_users"`
	TotalMessages   int64 `json:"total_messages"`
	MessagesToday   int64 `json:"messages_today"`
	GroupMessages   int64 `json:"group_messages"`
	PrivateMessages int64 `json:"private_messages"`
}

// Store is the persistence collaborator consumed by the session handler and
// the HTTP API. Every call may block; callers bound it with ctx.
type Store interface {
	// Exists reports whether username is registered.
	Exists(ctx context.Context, username string) (bool, error)
	// Authenticate reports whether password matches username.
	Authenticate(ctx context.Context, username, password string) (bool, error)
	// CreateUser registers username; ErrAlreadyExists if taken.
	CreateUser(ctx context.Context, username, password string) error
	SetStatus(ctx context.Context, username, status, statusMessage string) error
	UserInfo(ctx context.Context, username string) (*User, error)
	ListUsernames(ctx context.Context) ([]string, error)
	UsersWithStats(ctx context.Context) ([]UserStats, error)

	// AppendMessage persists msg and returns its new id.
	AppendMessage(ctx context.Context, msg *Message) (int64, error)
	// GetMessage returns a message by id, deleted or not.
	GetMessage(ctx context.Context, id int64) (*Message, error)
	// ReadGroup returns the newest limit group messages, oldest first.
	ReadGroup(ctx context.Context, limit int) ([]Message, error)
	// ReadDirect returns the newest limit messages between a and b, oldest first.
	ReadDirect(ctx context.Context, a, b string, limit int) ([]Message, error)
	SetBody(ctx context.Context, id int64, body string) error
	SetDeleted(ctx context.Context, id int64) error
	// Search matches body substrings, newest first, capped at SearchLimit.
	// An empty participant searches every conversation.
	Search(ctx context.Context, query, participant string) ([]Message, error)
	RecentMessages(ctx context.Context, limit int) ([]Message, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)

	// ToggleReaction adds the reaction, or removes it if present. It
	// reports true when the reaction was added.
	ToggleReaction(ctx context.Context, messageID int64, username, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageIDs ...int64) (map[int64][]Reaction, error)
	// MarkRead records a receipt and reports whether it was new.
	MarkRead(ctx context.Context, messageID int64, username string) (bool, error)

	Close() error
}
