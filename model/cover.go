package model

import "time"

// Cover is an image attached to the tracks of one archive subtree, or the
// embedded picture of a single track.
type Cover struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string    `gorm:"index;size:36;not null" json:"ownerId"`
	BlobKey   string    `gorm:"uniqueIndex;size:512;not null" json:"-"`
	MimeType  string    `gorm:"size:64" json:"mimeType"`
	Format    string    `gorm:"size:16" json:"format"`
	Width     *int      `json:"width,omitempty"`
	Height    *int      `json:"height,omitempty"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}
