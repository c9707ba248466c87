package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fraudshield/scoring-engine/internal/models"
)

var ErrAdminUserNotFound = errors.New("admin user not found")

// AdminUserRepository holds operator accounts for the admin surface.
type AdminUserRepository struct {
	db *Database
}

func NewAdminUserRepository(db *Database) *AdminUserRepository {
	return &AdminUserRepository{db: db}
}

func (r *AdminUserRepository) GetByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var u models.AdminUser
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM admin_users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdminUserNotFound
		}
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}
	return &u, nil
}
