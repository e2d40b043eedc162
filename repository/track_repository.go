package repository

import (
	"context"
	"fmt"
	"strings"

	"tunevault/model"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ListQuery pages through a principal's tracks.
type ListQuery struct {
	Skip   int
	Limit  int
	Search string // case-insensitive substring of the original name
}

func (q ListQuery) normalized() ListQuery {
	if q.Skip < 0 {
		q.Skip = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	CreateTrack(ctx context.Context, track *model.Track) error
	GetTrackByID(ctx context.Context, id string) (*model.Track, error)
	ListTracksByOwner(ctx context.Context, ownerID string, q ListQuery) ([]*model.Track, error)
	OwnerOf(ctx context.Context, trackID string) (string, error)
	DeleteTrack(ctx context.Context, id string) error
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewTrackRepository creates a gorm backed TrackRepository.
func NewTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// CreateTrack inserts one row in its own statement.
func (r *gormTrackRepository) CreateTrack(ctx context.Context, track *model.Track) error {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("create track %s: %w", track.ID, translateError(err))
	}
	return nil
}

func (r *gormTrackRepository) GetTrackByID(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	if err := r.db.WithContext(ctx).First(&track, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get track %s: %w", id, translateError(err))
	}
	return &track, nil
}

func (r *gormTrackRepository) ListTracksByOwner(ctx context.Context, ownerID string, q ListQuery) ([]*model.Track, error) {
	q = q.normalized()

	tx := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if q.Search != "" {
		tx = tx.Where("LOWER(original_name) LIKE ?", "%"+escapeLike(strings.ToLower(q.Search))+"%")
	}

	var tracks []*model.Track
	err := tx.Order("created_at DESC").Order("id").Offset(q.Skip).Limit(q.Limit).Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("list tracks of %s: %w", ownerID, translateError(err))
	}
	return tracks, nil
}

func (r *gormTrackRepository) OwnerOf(ctx context.Context, trackID string) (string, error) {
	var owners []string
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", trackID).Limit(1).Pluck("owner_id", &owners).Error
	if err != nil {
		return "", fmt.Errorf("owner of track %s: %w", trackID, translateError(err))
	}
	if len(owners) == 0 {
		return "", fmt.Errorf("owner of track %s: %w", trackID, ErrNotFound)
	}
	return owners[0], nil
}

func (r *gormTrackRepository) DeleteTrack(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.Track{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete track %s: %w", id, translateError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete track %s: %w", id, ErrNotFound)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
