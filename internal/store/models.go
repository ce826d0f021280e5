package store

import "time"

// Profile is a saved connection profile. Only the password is sensitive;
// it is fernet-encrypted before it ever reaches the database, and session
// metadata never carries it.
type Profile struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null;size:128" json:"name"`
	Host              string    `gorm:"not null" json:"host"`
	Port              int       `gorm:"not null;default:22" json:"port"`
	Username          string    `gorm:"not null" json:"username"`
	AuthType          string    `gorm:"not null;default:password" json:"authType"`
	EncryptedPassword string    `json:"-"`
	PrivateKeyPath    string    `json:"privateKeyPath,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Bookmark points at a remote directory on a profile's host.
type Bookmark struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"not null;size:128" json:"name"`
	ProfileID  uint      `gorm:"not null;index" json:"profileId"`
	RemotePath string    `gorm:"not null" json:"remotePath"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// Setting is a key/value row for store-internal state such as the
// encryption key.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
