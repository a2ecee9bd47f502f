package domain

import (
	"time"

	"gorm.io/datatypes"
)

const CollectionName = "users"

// Stored field names, shared by every backend.
const (
	FieldName               = "name"
	FieldEmail              = "email"
	FieldPassword           = "password"
	FieldOrganizationAccess = "organization_access"
	FieldLastUpdatedAt      = "last_updated_at"
)

// AccessEntry grants a user an access level within one organization.
type AccessEntry struct {
	OrganizationID string `bson:"organization_id" json:"organization_id"`
	AccessLevel    string `bson:"access_level" json:"access_level"`
}

// UserDocument is the persisted form of a user. Password holds the
// encoded hash and never leaves the service layer.
type UserDocument struct {
	ID                 string                           `gorm:"primaryKey;type:varchar(32)" bson:"-"`
	Name               string                           `gorm:"type:varchar(255);not null;index" bson:"name"`
	Email              string                           `gorm:"type:varchar(320);not null" bson:"email"`
	Password           string                           `gorm:"type:text;not null" bson:"password"`
	OrganizationAccess datatypes.JSONSlice[AccessEntry] `gorm:"not null" bson:"organization_access"`
	CreatedAt          time.Time                        `gorm:"not null" bson:"created_at"`
	LastUpdatedAt      time.Time                        `gorm:"not null" bson:"last_updated_at"`
	Version            int64                            `gorm:"not null;default:1" bson:"version"`
}

func (UserDocument) TableName() string { return CollectionName }

func (d *UserDocument) DocumentID() string               { return d.ID }
func (d *UserDocument) SetDocumentID(id string)          { d.ID = id }
func (d *UserDocument) DocumentVersion() int64           { return d.Version }
func (d *UserDocument) SetDocumentVersion(version int64) { d.Version = version }

// User is the public view of a user.
type User struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Email              string        `json:"email"`
	OrganizationAccess []AccessEntry `json:"organization_access"`
	CreatedAt          time.Time     `json:"created_at"`
	LastUpdatedAt      time.Time     `json:"last_updated_at"`
}

// ToUser copies the document into its public view.
func (d *UserDocument) ToUser() User {
	access := make([]AccessEntry, len(d.OrganizationAccess))
	copy(access, d.OrganizationAccess)
	return User{
		ID:                 d.ID,
		Name:               d.Name,
		Email:              d.Email,
		OrganizationAccess: access,
		CreatedAt:          d.CreatedAt.UTC(),
		LastUpdatedAt:      d.LastUpdatedAt.UTC(),
	}
}
