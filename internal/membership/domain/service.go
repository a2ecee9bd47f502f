// Package domain declares the membership operations that keep a user's
// organization_access list and an organization's users_id list in step.
package domain

import (
	"context"
	"errors"

	userdomain "github.com/smallbiznis/orgaccess/internal/user/domain"
)

var (
	ErrInvalidAccessLevel = errors.New("invalid_access_level")
	ErrMembershipNotFound = errors.New("membership_not_found")
	// ErrConcurrentUpdate is returned when a side could not be written
	// because other writers kept changing it, or the pair lock was busy.
	ErrConcurrentUpdate = errors.New("concurrent_update")
)

// Operation names, used for logs and metrics.
const (
	OpAddMember         = "add_member"
	OpUpdateAccessLevel = "update_access_level"
	OpRemoveAccessEntry = "remove_access_entry"
	OpRemoveMember      = "remove_member"
)

// Service resolves the organization before the user in every operation,
// so a request naming two missing documents reports the organization.
type Service interface {
	AddMember(ctx context.Context, orgID, userID, accessLevel string) (userdomain.User, error)
	UpdateAccessLevel(ctx context.Context, orgID, userID, accessLevel string) (userdomain.User, error)
	RemoveAccessEntry(ctx context.Context, orgID, userID string) (userdomain.User, error)
	RemoveMember(ctx context.Context, orgID, userID string) (userdomain.User, error)
}
