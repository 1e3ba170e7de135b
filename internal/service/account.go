package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"freecanvas/internal/model"
	"freecanvas/internal/repository"
)

var (
	ErrAccountExists      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TokenIssuer signs bearer tokens for a subject. *auth.Manager satisfies it.
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// RegisterInput is the payload of a sign-up.
type RegisterInput struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email,max=254"`
	// bcrypt ignores bytes past 72.
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginInput is the payload of a sign-in.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Session is a signed token and the account it belongs to.
type Session struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// AccountService registers users and exchanges credentials for tokens.
type AccountService interface {
	Register(ctx context.Context, in RegisterInput) (*Session, error)
	Login(ctx context.Context, in LoginInput) (*Session, error)
}

type accountService struct {
	users    repository.UserRepository
	tokens   TokenIssuer
	logger   *zap.Logger
	validate *validator.Validate
	cost     int
	now      func() time.Time
}

// NewAccountService constructs a new AccountService.
func NewAccountService(users repository.UserRepository, tokens TokenIssuer, logger *zap.Logger) AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &accountService{
		users:    users,
		tokens:   tokens,
		logger:   logger.Named("accounts"),
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *accountService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return nil, formatValidationError(err)
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, &model.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost a race with a concurrent sign-up.
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return s.session(user)
}

func (s *accountService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return nil, formatValidationError(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *accountService) session(u *model.User) (*Session, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, User: *u}, nil
}
