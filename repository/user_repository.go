package repository

import (
	"context"
	"fmt"

	"tunevault/model"

	"gorm.io/gorm"
)

// UserRepository defines the interface for principal data operations.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type gormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a gorm backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) CreateUser(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user %q: %w", user.Username, translateError(err))
	}
	return nil
}

func (r *gormUserRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, translateError(err))
	}
	return &user, nil
}

func (r *gormUserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, translateError(err))
	}
	return &user, nil
}

// DeleteUser removes the user row; tracks and covers go with it through the
// ON DELETE CASCADE foreign keys.
func (r *gormUserRepository) DeleteUser(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.User{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete user %s: %w", id, translateError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete user %s: %w", id, ErrNotFound)
	}
	return nil
}
