package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fraudshield/scoring-engine/internal/auth"
	"github.com/fraudshield/scoring-engine/internal/repositories"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// AuthService handles admin operator authentication.
type AuthService struct {
	adminUsers *repositories.AdminUserRepository
	jwtManager *auth.JWTManager
}

func NewAuthService(adminUsers *repositories.AdminUserRepository, jwtManager *auth.JWTManager) *AuthService {
	return &AuthService{adminUsers: adminUsers, jwtManager: jwtManager}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
}

// Login authenticates an operator and issues a JWT.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.adminUsers.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrAdminUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up admin user: %w", err)
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &AuthResponse{
		Token:     token,
		ExpiresIn: int64(s.jwtManager.Expiration().Seconds()),
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
	}, nil
}
