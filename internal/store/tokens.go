package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// Token consumption failures. The gateway maps all three to the same
// rejection so a caller can't probe which one occurred.
var (
	ErrTokenUnknown = errors.New("store: token unknown")
	ErrTokenUsed    = errors.New("store: token already used")
	ErrTokenExpired = errors.New("store: token expired")
)

// Tokens tracks minted voice tokens by jti. The JWT itself is signed and
// verified elsewhere; this store enforces one connection per token.
type Tokens struct {
	db *gorm.DB
}

// NewTokens creates the token store.
func NewTokens(db *gorm.DB) (*Tokens, error) {
	if db == nil {
		return nil, fmt.Errorf("store: tokens: db is required")
	}
	return &Tokens{db: db}, nil
}

// Mint records a fresh token id with the given lifetime and returns the jti.
func (t *Tokens) Mint(ttl time.Duration, now time.Time) (string, error) {
	tok := models.VoiceToken{
		JTI:       uuid.NewString(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := t.db.Create(&tok).Error; err != nil {
		return "", fmt.Errorf("store: mint token: %w", err)
	}
	return tok.JTI, nil
}

// Consume spends a token. Exactly one Consume per jti can succeed.
func (t *Tokens) Consume(jti string, now time.Time) error {
	return t.db.Transaction(func(tx *gorm.DB) error {
		var tok models.VoiceToken
		err := tx.Where("jti = ?", jti).First(&tok).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenUnknown
		}
		if err != nil {
			return fmt.Errorf("store: load token: %w", err)
		}
		if tok.ConsumedAt != nil {
			return ErrTokenUsed
		}
		if now.After(tok.ExpiresAt) {
			return ErrTokenExpired
		}
		res := tx.Model(&models.VoiceToken{}).
			Where("jti = ? AND consumed_at IS NULL", jti).
			Update("consumed_at", &now)
		if res.Error != nil {
			return fmt.Errorf("store: consume token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTokenUsed
		}
		return nil
	})
}

// PurgeExpired removes expired and long-consumed token rows.
func (t *Tokens) PurgeExpired(now time.Time) (int, error) {
	res := t.db.Delete(&models.VoiceToken{}, "expires_at < ?", now)
	if res.Error != nil {
		return 0, fmt.Errorf("store: purge tokens: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
