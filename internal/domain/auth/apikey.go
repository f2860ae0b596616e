package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Apikey authenticates machine clients of one auth user. Only the bcrypt
// hash of the secret is kept.
type Apikey struct {
	ID           uuid.UUID
	PublicID     string
	Title        string
	AuthID       uuid.UUID
	HashedSecret string
	CreatedAt    time.Time
}

// NewApikey returns the key and its plaintext secret. The secret is not
// recoverable afterwards.
func NewApikey(title string, authID uuid.UUID, now time.Time) (*Apikey, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, "", fmt.Errorf("%w: apikey title is required", apperrors.ErrInvalidArgument)
	}
	publicID, err := randomHex(8)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash apikey secret: %w", err)
	}
	return &Apikey{
		ID:           uuid.New(),
		PublicID:     "sk_" + publicID,
		Title:        title,
		AuthID:       authID,
		HashedSecret: string(hashed),
		CreatedAt:    now.UTC(),
	}, secret, nil
}

func (k *Apikey) Verify(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(k.HashedSecret), []byte(secret)) == nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type ApikeyFilter struct {
	AuthIDs []uuid.UUID
	Page    domain.Page
}

type ApikeyRepo interface {
	AddOne(item *Apikey) error
	DeleteOne(item *Apikey) error
	GetOneByID(ctx context.Context, id uuid.UUID, lock domain.Lock) (*Apikey, error)
	GetOneByPublicID(ctx context.Context, publicID string, lock domain.Lock) (*Apikey, error)
	GetSelected(ctx context.Context, filter ApikeyFilter, lock domain.Lock) ([]*Apikey, error)
}
