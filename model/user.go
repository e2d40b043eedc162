package model

import "time"

// User is a stored principal. Deleting it cascades to its tracks and covers.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`

	Tracks []Track `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"-"`
	Covers []Cover `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"-"`
}

// Principal is the authenticated identity of a request. It is built once by the
// auth middleware and passed explicitly to everything downstream.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Principal returns the identity view of the user.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Username: u.Username}
}
