package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/chatmk/internal/config"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on any gorm dialect.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Exists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil, nil
}

func (s *GormStore) CreateUser(ctx context.Context, username, password string) error {
	exists, err := s.Exists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: string(hash),
		AvatarColor:  "#6366f1",
		Status:       "online",
		CreatedAt:    time.Now(),
	}
	err = s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

func (s *GormStore) SetStatus(ctx context.Context, username, status, statusMessage string) error {
	res := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Updates(map[string]any{"status": status, "status_message": statusMessage})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero for unchanged rows, so double-check before failing.
		exists, err := s.Exists(ctx, username)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *GormStore) UserInfo(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) ListUsernames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Order("username asc").
		Pluck("username", &names).Error
	return names, err
}

func (s *GormStore) UsersWithStats(ctx context.Context) ([]UserStats, error) {
	var out []UserStats
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Select("users.username, users.created_at, COUNT(messages.id) AS message_count").
		Joins("LEFT JOIN messages ON messages.sender = users.username").
		Group("users.username, users.created_at").
		Order("message_count desc, users.username asc").
		Scan(&out).Error
	return out, err
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (s *GormStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	return getMessage(s.db.WithContext(ctx), id)
}

func getMessage(db *gorm.DB, id int64) (*Message, error) {
	var msg Message
	err := db.Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *GormStore) ReadGroup(ctx context.Context, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("recipient = ? AND deleted = ?", config.GroupRecipient, false).
		Order("id desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *GormStore) ReadDirect(ctx context.Context, a, b string, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)) AND deleted = ?", a, b, b, a, false).
		Order("id desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *GormStore) SetBody(ctx context.Context, id int64, body string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getMessage(tx, id); err != nil {
			return err
		}
		return tx.Model(&Message{}).
			Where("id = ?", id).
			Updates(map[string]any{"body": body, "edited": true}).Error
	})
}

func (s *GormStore) SetDeleted(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getMessage(tx, id); err != nil {
			return err
		}
		return tx.Model(&Message{}).
			Where("id = ?", id).
			Update("deleted", true).Error
	})
}

// likeEscaper makes a search query match literally inside LIKE ... ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func (s *GormStore) Search(ctx context.Context, query, participant string) ([]Message, error) {
	q := s.db.WithContext(ctx).
		Where("body LIKE ? ESCAPE '!' AND deleted = ?", "%"+likeEscaper.Replace(query)+"%", false)
	if participant != "" {
		q = q.Where("(sender = ? OR recipient = ?)", participant, participant)
	}

	var messages []Message
	err := q.Order("id desc").Limit(SearchLimit).Find(&messages).Error
	return messages, err
}

func (s *GormStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *GormStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	db := s.db.WithContext(ctx)
	var stats Stats

	if err := db.Model(&User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Message{}).Count(&stats.TotalMessages).Error; err != nil {
		return nil, err
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := db.Model(&Message{}).Where("created_at >= ?", startOfDay).Count(&stats.MessagesToday).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Message{}).Where("recipient = ?", config.GroupRecipient).Count(&stats.GroupMessages).Error; err != nil {
		return nil, err
	}

	stats.PrivateMessages = stats.TotalMessages - stats.GroupMessages
	return &stats, nil
}

func (s *GormStore) ToggleReaction(ctx context.Context, messageID int64, username, emoji string) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getMessage(tx, messageID); err != nil {
			return err
		}

		var existing Reaction
		err := tx.Where("message_id = ? AND username = ? AND emoji = ?", messageID, username, emoji).
			First(&existing).Error
		switch {
		case err == nil:
			return tx.Delete(&existing).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			added = true
			return tx.Create(&Reaction{
				MessageID: messageID,
				Username:  username,
				Emoji:     emoji,
				CreatedAt: time.Now(),
			}).Error
		default:
			return err
		}
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *GormStore) ListReactions(ctx context.Context, messageIDs ...int64) (map[int64][]Reaction, error) {
	out := make(map[int64][]Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	var reactions []Reaction
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("id asc").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	for _, r := range reactions {
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, nil
}

func (s *GormStore) MarkRead(ctx context.Context, messageID int64, username string) (bool, error) {
	marked := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getMessage(tx, messageID); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ReadReceipt{
			MessageID: messageID,
			Username:  username,
			ReadAt:    time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected > 0
		return nil
	})
	return marked, err
}
