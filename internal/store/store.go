// Package store persists connection profiles and bookmarks in a local
// sqlite database. Profile passwords are encrypted at rest with a fernet
// key generated on first use and kept in the settings table.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fernet/fernet-go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrProfileNotFound is returned for lookups of unknown profiles.
var ErrProfileNotFound = errors.New("profile not found")

// ErrBookmarkNotFound is returned for lookups of unknown bookmarks.
var ErrBookmarkNotFound = errors.New("bookmark not found")

// Store wraps the sqlite database. Construct instances with Open so tests
// can each use an independent database file.
type Store struct {
	db  *gorm.DB
	key *fernet.Key
}

// Open opens (creating if necessary) the database at dbPath and runs
// migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Profile{}, &Bookmark{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadKey(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// loadKey loads the fernet key from the settings table, generating and
// persisting a new one on first use.
func (s *Store) loadKey() error {
	var setting Setting
	err := s.db.First(&setting, "key = ?", "fernet_key").Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return fmt.Errorf("generate fernet key: %w", err)
		}
		if err := s.db.Create(&Setting{Key: "fernet_key", Value: k.Encode()}).Error; err != nil {
			return fmt.Errorf("save fernet key: %w", err)
		}
		s.key = &k
		return nil
	}
	if err != nil {
		return fmt.Errorf("load fernet key: %w", err)
	}
	key, err := fernet.DecodeKey(setting.Value)
	if err != nil {
		return fmt.Errorf("decode fernet key: %w", err)
	}
	s.key = key
	return nil
}

func (s *Store) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{s.key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// SaveProfile creates or updates a profile. A non-empty password is
// encrypted before storage; an empty password leaves any stored one intact.
func (s *Store) SaveProfile(p *Profile, password string) error {
	if password != "" {
		enc, err := s.encrypt(password)
		if err != nil {
			return err
		}
		p.EncryptedPassword = enc
	} else if p.ID != 0 {
		var existing Profile
		if err := s.db.First(&existing, p.ID).Error; err == nil {
			p.EncryptedPassword = existing.EncryptedPassword
		}
	}
	if err := s.db.Save(p).Error; err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile with the given id.
func (s *Store) GetProfile(id uint) (*Profile, error) {
	var p Profile
	err := s.db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// ProfilePassword decrypts and returns the stored password for a profile.
// Callers hand it straight to the registry and never persist it elsewhere.
func (s *Store) ProfilePassword(id uint) (string, error) {
	p, err := s.GetProfile(id)
	if err != nil {
		return "", err
	}
	return s.decrypt(p.EncryptedPassword)
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles() ([]Profile, error) {
	var out []Profile
	if err := s.db.Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// DeleteProfile removes a profile and its bookmarks.
func (s *Store) DeleteProfile(id uint) error {
	res := s.db.Delete(&Profile{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	if err := s.db.Where("profile_id = ?", id).Delete(&Bookmark{}).Error; err != nil {
		return fmt.Errorf("delete profile bookmarks: %w", err)
	}
	return nil
}

// SaveBookmark creates or updates a bookmark. The referenced profile must
// exist.
func (s *Store) SaveBookmark(b *Bookmark) error {
	if _, err := s.GetProfile(b.ProfileID); err != nil {
		return err
	}
	if err := s.db.Save(b).Error; err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	return nil
}

// ListBookmarks returns all bookmarks, optionally filtered by profile.
func (s *Store) ListBookmarks(profileID uint) ([]Bookmark, error) {
	q := s.db.Order("name")
	if profileID != 0 {
		q = q.Where("profile_id = ?", profileID)
	}
	var out []Bookmark
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return out, nil
}

// DeleteBookmark removes a bookmark.
func (s *Store) DeleteBookmark(id uint) error {
	res := s.db.Delete(&Bookmark{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete bookmark: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBookmarkNotFound
	}
	return nil
}
