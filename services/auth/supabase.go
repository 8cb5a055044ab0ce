package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"stockdash/models"
	"stockdash/services"
)

// SupabaseProvider delegates to the Supabase GoTrue REST API and mirrors each
// authenticated identity into the users table.
type SupabaseProvider struct {
	url        string
	anonKey    string
	db         *gorm.DB
	httpClient *http.Client
}

func NewSupabaseProvider(url, anonKey string, db *gorm.DB) *SupabaseProvider {
	return &SupabaseProvider{
		url:        strings.TrimRight(url, "/"),
		anonKey:    anonKey,
		db:         db,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *SupabaseProvider) Name() string { return "supabase" }

type supabaseUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

func (u supabaseUser) fullName() string {
	name, _ := u.UserMetadata["full_name"].(string)
	return name
}

type supabaseSession struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         supabaseUser `json:"user"`
}

type supabaseError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
	MessageAlt       string `json:"message"`
	ErrorCode        string `json:"error_code"`
}

func (e supabaseError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Message, e.MessageAlt, e.Error} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

// do sends a GoTrue request and decodes a 2xx body into dest
func (p *SupabaseProvider) do(ctx context.Context, method, path, bearer string, payload, dest interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.url+"/auth/v1"+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("supabase request: %v: %w", err, services.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp supabaseError
		_ = json.Unmarshal(respBody, &errResp)
		return resp.StatusCode, fmt.Errorf("supabase auth: %s", errResp.text())
	}

	if dest != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return resp.StatusCode, fmt.Errorf("parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// classify maps a GoTrue failure status onto the service errors
func classify(status int, err error, clientErr error) error {
	switch {
	case status == 0 || status >= 500:
		return fmt.Errorf("%v: %w", err, services.ErrProviderUnavailable)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%v: %w", err, services.ErrProviderUnavailable)
	default:
		return fmt.Errorf("%v: %w", err, clientErr)
	}
}

func (p *SupabaseProvider) session(ctx context.Context, s *supabaseSession, login bool) (*Session, error) {
	user, err := syncUser(ctx, p.db, s.User.ID, s.User.Email, s.User.fullName(), login)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    s.ExpiresAt,
		User:         user,
	}, nil
}

// SignUp registers through GoTrue. With email confirmation enabled GoTrue
// returns only the user, so the session carries no tokens.
func (p *SupabaseProvider) SignUp(ctx context.Context, email, password, fullName string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"email":    email,
		"password": password,
		"data":     map[string]string{"full_name": fullName},
	}

	var raw json.RawMessage
	status, err := p.do(ctx, http.MethodPost, "/signup", "", payload, &raw)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already registered") {
			return nil, fmt.Errorf("%v: %w", err, services.ErrConflict)
		}
		return nil, classify(status, err, services.ErrInvalidInput)
	}

	var s supabaseSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse signup response: %w", err)
	}
	if s.AccessToken == "" {
		if err := json.Unmarshal(raw, &s.User); err != nil {
			return nil, fmt.Errorf("parse signup user: %w", err)
		}
	}
	if s.User.ID == "" {
		return nil, fmt.Errorf("signup response has no user: %w", services.ErrProviderUnavailable)
	}
	return p.session(ctx, &s, s.AccessToken != "")
}

func (p *SupabaseProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	payload := map[string]string{
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"password": password,
	}

	var s supabaseSession
	status, err := p.do(ctx, http.MethodPost, "/token?grant_type=password", "", payload, &s)
	if err != nil {
		return nil, classify(status, err, services.ErrUnauthorized)
	}
	return p.session(ctx, &s, true)
}

func (p *SupabaseProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required: %w", services.ErrInvalidInput)
	}

	var s supabaseSession
	status, err := p.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": refreshToken}, &s)
	if err != nil {
		return nil, classify(status, err, services.ErrUnauthorized)
	}
	return p.session(ctx, &s, false)
}

func (p *SupabaseProvider) SignOut(ctx context.Context, accessToken, _ string) error {
	status, err := p.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
	if err != nil {
		return classify(status, err, services.ErrUnauthorized)
	}
	return nil
}

func (p *SupabaseProvider) User(ctx context.Context, accessToken string) (*models.User, error) {
	var u supabaseUser
	status, err := p.do(ctx, http.MethodGet, "/user", accessToken, nil, &u)
	if err != nil {
		return nil, classify(status, err, services.ErrUnauthorized)
	}
	return syncUser(ctx, p.db, u.ID, u.Email, u.fullName(), false)
}
