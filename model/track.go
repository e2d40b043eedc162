package model

import "time"

// NoTrackNumber marks a track whose number tag is missing or has no digits.
const NoTrackNumber = -1

// Track represents a stored audio unit.
type Track struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID      string    `gorm:"index;size:36;not null" json:"ownerId"`
	OriginalName string    `gorm:"size:1024;not null" json:"originalName"` // logical path shown in the UI tree
	BlobKey      string    `gorm:"uniqueIndex;size:512;not null" json:"-"`
	StreamPrefix string    `gorm:"size:512" json:"-"` // blob prefix of HLS output, empty when not transcoded
	SizeBytes    int64     `json:"sizeBytes"`
	MimeType     string    `gorm:"size:128" json:"mimeType"`
	Title        string    `gorm:"size:512" json:"title"`
	TrackNumber  int       `gorm:"not null" json:"trackNumber"`
	Album        string    `gorm:"size:512" json:"album,omitempty"`
	Artist       string    `gorm:"size:512" json:"artist,omitempty"`
	Genre        string    `gorm:"size:255" json:"genre,omitempty"`
	Duration     float32   `json:"duration,omitempty"` // seconds, from ffprobe when transcoded
	CoverID      *string   `gorm:"size:36;index" json:"coverId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	Cover *Cover `gorm:"foreignKey:CoverID;constraint:OnDelete:SET NULL" json:"-"`
}

// Streamable reports whether segmented output exists for the track.
func (t *Track) Streamable() bool {
	return t.StreamPrefix != ""
}
