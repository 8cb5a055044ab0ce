package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/models"
	"stockdash/services"
)

const (
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// LocalProvider authenticates against bcrypt hashes in the users table and
// issues its own tokens.
type LocalProvider struct {
	db     *gorm.DB
	secret []byte
	tokens RefreshStore
	now    func() time.Time
}

func NewLocalProvider(db *gorm.DB, secret []byte, tokens RefreshStore) *LocalProvider {
	return &LocalProvider{db: db, secret: secret, tokens: tokens, now: time.Now}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) issue(ctx context.Context, user *models.User) (*Session, error) {
	now := p.now()
	sessionID := uuid.NewString()

	access, expires, err := IssueAccessToken(p.secret, user, sessionID, AccessTokenTTL, now)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	if err := p.tokens.Save(ctx, refresh, user.ID, RefreshTokenTTL); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		ExpiresAt:    expires.Unix(),
		User:         user,
	}, nil
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password, fullName string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("email already registered: %w", services.ErrConflict)
	}

	now := p.now().UTC()
	user := &models.User{
		ID:          uuid.NewString(),
		Email:       email,
		FullName:    fullName,
		Role:        models.RoleUser,
		Plan:        models.PlanFree,
		LastLoginAt: &now,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := p.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("email already registered: %w", services.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Info().Str("user_id", user.ID).Msg("User signed up")
	return p.issue(ctx, user)
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("invalid login credentials: %w", services.ErrUnauthorized)
	}

	var user models.User
	err = p.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invalid login credentials: %w", services.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.CheckPassword(password) {
		return nil, fmt.Errorf("invalid login credentials: %w", services.ErrUnauthorized)
	}

	now := p.now().UTC()
	if err := p.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record login time")
	}
	user.LastLoginAt = &now

	return p.issue(ctx, &user)
}

// Refresh rotates the refresh token and issues a new access token
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required: %w", services.ErrInvalidInput)
	}
	userID, err := p.tokens.Consume(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := p.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.issue(ctx, user)
}

func (p *LocalProvider) SignOut(ctx context.Context, _ string, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return p.tokens.Revoke(ctx, refreshToken)
}

func (p *LocalProvider) User(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := ParseToken(p.secret, accessToken)
	if err != nil {
		return nil, err
	}
	return p.load(ctx, claims.Subject)
}

func (p *LocalProvider) load(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := p.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s no longer exists: %w", userID, services.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}
