// internal/persistence/types.go
package persistence

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User — сохранённый пользователь. Хэш пароля наружу не сериализуется.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	LastLogin    time.Time `json:"last_login"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser — запрос на регистрацию.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Snapshot — состояние документа после применения команды с offset Version.
type Snapshot struct {
	DocumentID string    `json:"document_id"`
	Version    uint64    `json:"version"`
	Content    string    `json:"content"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserStorage хранит пользователей.
type UserStorage interface {
	SaveUser(ctx context.Context, u NewUser) (User, error)
	LoadUserByID(ctx context.Context, id string) (User, error)
}

// DocumentStorage хранит последние снапшоты документов.
type DocumentStorage interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
	LoadSnapshot(ctx context.Context, documentID string) (Snapshot, error)
}

// -----------------------------------------------------------------------------
// Validation & hashing
// -----------------------------------------------------------------------------

const (
	minUsernameLength = 3
	maxUsernameLength = 128
	minPasswordLength = 8
)

// prepareUser нормализует запрос, проверяет поля и хэширует пароль.
func prepareUser(u NewUser) (User, error) {
	username := strings.ToLower(strings.TrimSpace(u.Username))
	email := strings.TrimSpace(u.Email)
	password := strings.TrimSpace(u.Password)

	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return User{}, fmt.Errorf("%w: username must be between %d and %d characters",
			ErrValidation, minUsernameLength, maxUsernameLength)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	if len(password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("%w: hash password: %v", ErrPersistence, err)
	}
	now := time.Now().UTC()
	return User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		LastLogin:    now,
		CreatedAt:    now,
	}, nil
}

// CheckPassword сверяет пароль с сохранённым хэшем.
func CheckPassword(u User, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(strings.TrimSpace(password))); err != nil {
		return fmt.Errorf("%w: password mismatch", ErrValidation)
	}
	return nil
}

func validateSnapshot(s Snapshot) error {
	if strings.TrimSpace(s.DocumentID) == "" {
		return fmt.Errorf("%w: empty document id", ErrValidation)
	}
	return nil
}
