package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSession resolves a session by id and owner. A miss and a foreign owner
// look the same to the caller.
func (r *Repo) GetSession(ctx context.Context, sessionID string, userID uint64) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession removes the session and all its messages.
func (r *Repo) DeleteSession(ctx context.Context, sessionID string, userID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error
	})
}

// AcquireProcessing flips the single-flight guard with a conditional update,
// so exactly one of two racing requests wins even across replicas.
func (r *Repo) AcquireProcessing(ctx context.Context, sessionID string, userID uint64) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND user_id = ? AND processing = ?", sessionID, userID, false).
		Update("processing", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyProcessing
	}
	return nil
}

func (r *Repo) ReleaseProcessing(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Update("processing", false).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// RecentMessages returns up to limit messages in DESC id order
// (newest -> oldest), optionally skipping regenerated ones.
func (r *Repo) RecentMessages(ctx context.Context, sessionID string, excludeRegenerated bool, limit int) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit)
	if excludeRegenerated {
		q = q.Where("regenerated = ?", false)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// History returns the non-regenerated messages in chronological order.
func (r *Repo) History(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND regenerated = ?", sessionID, false).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// LatestAssistantMessage returns the newest ai message that has not been
// regenerated yet.
func (r *Repo) LatestAssistantMessage(ctx context.Context, sessionID string) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND role = ? AND regenerated = ?", sessionID, RoleAI, false).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoRegenerableMessage
		}
		return nil, err
	}
	return &m, nil
}

// MarkRegenerated is the one permitted message mutation: false -> true.
func (r *Repo) MarkRegenerated(ctx context.Context, messageID uint64) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Update("regenerated", true).Error
}

// AppendExchange stores one user/ai pair and, when the session has no title
// yet, sets it — all in a single transaction so a half-saved exchange can't
// be observed.
func (r *Repo) AppendExchange(ctx context.Context, userMsg, aiMsg *Message, title string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		if err := tx.Create(aiMsg).Error; err != nil {
			return err
		}
		if title != "" {
			return tx.Model(&Session{}).
				Where("id = ? AND title = ?", userMsg.SessionID, "").
				Update("title", title).Error
		}
		return nil
	})
}
