package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/config"
	"stockdash/models"
	"stockdash/services"
)

const minPasswordLength = 8

// Session is returned by sign-up, sign-in and refresh. Tokens are empty when
// the provider still requires email confirmation.
type Session struct {
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	ExpiresIn    int          `json:"expires_in,omitempty"`
	ExpiresAt    int64        `json:"expires_at,omitempty"`
	User         *models.User `json:"user"`
}

// Provider is an authentication backend
type Provider interface {
	Name() string
	SignUp(ctx context.Context, email, password, fullName string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken, refreshToken string) error
	User(ctx context.Context, accessToken string) (*models.User, error)
}

// NewProvider picks Supabase when it is configured and the local user table otherwise
func NewProvider(cfg config.AuthConfig, secret []byte, db *gorm.DB, rdb *redis.Client) Provider {
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != "" {
		log.Info().Str("provider", "supabase").Msg("Auth provider configured")
		return NewSupabaseProvider(cfg.SupabaseURL, cfg.SupabaseAnonKey, db)
	}

	var store RefreshStore = NewMemoryRefreshStore()
	if rdb != nil {
		store = NewRedisRefreshStore(rdb)
	}
	log.Info().Str("provider", "local").Bool("redis_refresh_tokens", rdb != nil).Msg("Auth provider configured")
	return NewLocalProvider(db, secret, store)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email address: %w", services.ErrInvalidInput)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, services.ErrInvalidInput)
	}
	return nil
}

// syncUser creates or refreshes the users row for an identity. Role and plan
// are owned by this service and never overwritten here.
func syncUser(ctx context.Context, db *gorm.DB, id, email, fullName string, login bool) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	now := time.Now().UTC()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			ID:       id,
			Email:    email,
			FullName: fullName,
			Role:     models.RoleUser,
			Plan:     models.PlanFree,
		}
		if login {
			user.LastLoginAt = &now
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	updates := map[string]interface{}{}
	if email != "" && email != user.Email {
		updates["email"] = email
		user.Email = email
	}
	if fullName != "" && user.FullName == "" {
		updates["full_name"] = fullName
		user.FullName = fullName
	}
	if login {
		updates["last_login_at"] = now
		user.LastLoginAt = &now
	}
	if len(updates) > 0 {
		if err := db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return &user, nil
}
