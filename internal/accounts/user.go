package accounts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the local record of a directory user.
//
// Username and UsernameCanonical are set from the directory cn when the
// record is created and are never re-derived. Roles are likewise only set at
// creation, so later directory changes do not reach an existing record.
type User struct {
	ID uuid.UUID `gorm:"column:id;primaryKey;type:text" json:"id"`

	Username          string `gorm:"uniqueIndex;not null" json:"username"`
	UsernameCanonical string `gorm:"index;not null" json:"username_canonical"`
	Email             string `json:"email"`
	EmailCanonical    string `gorm:"index" json:"email_canonical"`

	Roles   []string `gorm:"serializer:json" json:"roles"`
	Enabled bool     `json:"enabled"`

	// Password holds a bcrypt hash of a discarded random secret. It is never
	// a usable login credential.
	Password string `json:"-"`

	DirectoryDN  string `json:"directory_dn,omitempty"`
	DirectorySID string `json:"directory_sid,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns an ID to new records.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
