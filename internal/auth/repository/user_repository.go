package repository

import (
	"errors"
	"strings"
	"time"

	authdomain "outreach-backend/internal/auth/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository defines persistence for users and their mailbox credentials
type UserRepository interface {
	Create(user *authdomain.User) error
	FindByID(id string) (*authdomain.User, error)
	FindByEmail(email string) (*authdomain.User, error)
	Update(user *authdomain.User) error
	UpdateTokens(userID, accessToken, refreshToken string, expiry time.Time) error
	ListMailboxUsers() ([]authdomain.User, error)
}

// userRepository implements UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of userRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Create(user *authdomain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	return r.db.Create(user).Error
}

func (r *userRepository) FindByEmail(email string) (*authdomain.User, error) {
	var user authdomain.User
	err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByID(id string) (*authdomain.User, error) {
	var user authdomain.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(user *authdomain.User) error {
	user.UpdatedAt = time.Now().UTC()
	return r.db.Save(user).Error
}

// UpdateTokens persists a refreshed OAuth token without touching other columns.
// An empty refresh token keeps the stored one, since Google only returns it on
// the first consent.
func (r *userRepository) UpdateTokens(userID, accessToken, refreshToken string, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"updated_at":   time.Now().UTC(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	if !expiry.IsZero() {
		exp := expiry.UTC()
		updates["token_expiry"] = &exp
	}
	return r.db.Model(&authdomain.User{}).Where("id = ?", userID).Updates(updates).Error
}

// ListMailboxUsers returns every user with credentials for a pollable mailbox.
func (r *userRepository) ListMailboxUsers() ([]authdomain.User, error) {
	var users []authdomain.User
	err := r.db.
		Where("(provider = ? AND (access_token <> '' OR refresh_token <> '')) OR (provider = ? AND imap_server <> '' AND imap_password <> '')",
			authdomain.ProviderGoogle, authdomain.ProviderIMAP).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
