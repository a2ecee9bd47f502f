package domain

import "gorm.io/datatypes"

const CollectionName = "organizations"

const (
	FieldName    = "name"
	FieldUsersID = "users_id"
)

// OrganizationDocument is the persisted form of an organization. UsersID
// holds canonical user ids without duplicates.
type OrganizationDocument struct {
	ID      string                      `gorm:"primaryKey;type:varchar(32)" bson:"-"`
	Name    string                      `gorm:"type:varchar(255);not null;index" bson:"name"`
	UsersID datatypes.JSONSlice[string] `gorm:"column:users_id;not null" bson:"users_id"`
	Version int64                       `gorm:"not null;default:1" bson:"version"`
}

func (OrganizationDocument) TableName() string { return CollectionName }

func (d *OrganizationDocument) DocumentID() string               { return d.ID }
func (d *OrganizationDocument) SetDocumentID(id string)          { d.ID = id }
func (d *OrganizationDocument) DocumentVersion() int64           { return d.Version }
func (d *OrganizationDocument) SetDocumentVersion(version int64) { d.Version = version }

// HasMember reports whether userID is listed in UsersID.
func (d *OrganizationDocument) HasMember(userID string) bool {
	for _, id := range d.UsersID {
		if id == userID {
			return true
		}
	}
	return false
}

type Organization struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	UsersID []string `json:"users_id"`
}

func (d *OrganizationDocument) ToOrganization() Organization {
	users := make([]string, len(d.UsersID))
	copy(users, d.UsersID)
	return Organization{
		ID:      d.ID,
		Name:    d.Name,
		UsersID: users,
	}
}
