package repository

import (
	"context"
	"fmt"

	"tunevault/model"

	"gorm.io/gorm"
)

// CoverRepository stores cover rows.
type CoverRepository interface {
	CreateCover(ctx context.Context, cover *model.Cover) error
	GetCoverByID(ctx context.Context, id string) (*model.Cover, error)
	DeleteCover(ctx context.Context, id string) error
}

type gormCoverRepository struct {
	db *gorm.DB
}

// NewCoverRepository creates a gorm backed CoverRepository.
func NewCoverRepository(db *gorm.DB) CoverRepository {
	return &gormCoverRepository{db: db}
}

func (r *gormCoverRepository) CreateCover(ctx context.Context, cover *model.Cover) error {
	if err := r.db.WithContext(ctx).Create(cover).Error; err != nil {
		return fmt.Errorf("create cover %s: %w", cover.ID, translateError(err))
	}
	return nil
}

func (r *gormCoverRepository) DeleteCover(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.Cover{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete cover %s: %w", id, translateError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete cover %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *gormCoverRepository) GetCoverByID(ctx context.Context, id string) (*model.Cover, error) {
	var cover model.Cover
	if err := r.db.WithContext(ctx).First(&cover, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get cover %s: %w", id, translateError(err))
	}
	return &cover, nil
}
