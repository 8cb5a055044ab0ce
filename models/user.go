package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User mirrors the Supabase auth user. ID is the JWT subject.
type User struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	FullName         string     `json:"full_name"`
	AvatarURL        string     `json:"avatar_url"`
	Role             string     `gorm:"default:'user'" json:"role"` // user, admin
	Plan             string     `gorm:"default:'free'" json:"plan"` // free, pro
	PasswordHash     string     `json:"-"`                          // local auth only
	StripeCustomerID string     `json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Plans
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// SetPassword hashes and sets the password for local sign-in
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies the provided password against the stored hash
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// SeedAdminUser creates the admin account from a pre-computed bcrypt hash
// (see scripts/generate_password_hash.go). Empty arguments disable seeding.
func SeedAdminUser(db *gorm.DB, email, passwordHash string) error {
	if email == "" || passwordHash == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	admin := &User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     "Administrator",
		Role:         RoleAdmin,
		Plan:         PlanPro,
		PasswordHash: passwordHash,
	}
	return db.Create(admin).Error
}

// MigrateUserModels runs database migrations for user-related models
func MigrateUserModels(db *gorm.DB) error {
	return db.AutoMigrate(&User{})
}
