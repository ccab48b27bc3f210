package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
	"github.com/Gopher0727/TeamLoom/middleware/jwt"
)

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email,max=254"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	FirstName string `json:"first_name" binding:"max=64"`
	LastName  string `json:"last_name" binding:"max=64"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// AccountService registers users and issues tokens.
type AccountService struct {
	store  *repositories.Gateway
	tokens *jwt.TokenManager
	cost   int
}

func NewAccountService(store *repositories.Gateway, tokens *jwt.TokenManager) *AccountService {
	return &AccountService{store: store, tokens: tokens, cost: bcrypt.DefaultCost}
}

// Register creates the user and, as an explicit second step in the same
// transaction, an empty profile.
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: string(hash),
	}
	err = s.store.Transaction(ctx, func(tx *repositories.Gateway) error {
		if err := tx.Users.Create(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return ErrEmailTaken
			}
			return fromStorage("create user", err, nil)
		}
		profile := &models.Profile{UserID: user.ID}
		if err := tx.Users.CreateProfile(ctx, profile); err != nil {
			return fromStorage("create profile", err, nil)
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// Login checks the password and issues a token.
func (s *AccountService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fromStorage("load user", err, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Me returns the user with their profile.
func (s *AccountService) Me(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fromStorage("load user", err, ErrUserNotFound)
	}
	profile, err := s.store.Users.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fromStorage("load profile", err, nil)
	}
	user.Profile = profile
	return user, nil
}

func (s *AccountService) issue(user *models.User) (*AuthResponse, error) {
	token, err := s.tokens.GenerateToken(jwt.Identity{
		UserID: user.ID,
		Name:   user.FullName(),
		Email:  user.Email,
	})
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, User: user}, nil
}
