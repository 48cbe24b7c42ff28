package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatbot-api/internal/domain"
	"chatbot-api/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	// ErrUserAlreadyExists is returned when the username or email is already registered.
	ErrUserAlreadyExists = errors.New("username or email already registered")
)

const (
	maxUsernameLength = 50
	maxEmailLength    = 100
)

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type userService struct {
	users    repository.UserRepository
	tx       repository.Transactor
	hashCost int
}

func NewUserService(users repository.UserRepository, tx repository.Transactor) UserService {
	return &userService{
		users:    users,
		tx:       tx,
		hashCost: bcrypt.DefaultCost,
	}
}

func (s *userService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" {
		return nil, validationErrorf("username is required")
	}
	if email == "" {
		return nil, validationErrorf("email is required")
	}
	if password == "" {
		return nil, validationErrorf("password is required")
	}
	if len([]rune(username)) > maxUsernameLength {
		return nil, validationErrorf("username must be at most %d characters", maxUsernameLength)
	}
	if len([]rune(email)) > maxEmailLength {
		return nil, validationErrorf("email must be at most %d characters", maxEmailLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
		if err != nil {
			return err
		}
		if exists {
			return ErrUserAlreadyExists
		}
		_, err = s.users.Create(ctx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserAlreadyExists) || errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}
}
