package service

import (
	"github.com/smallbiznis/orgaccess/internal/membership/domain"
	userdomain "github.com/smallbiznis/orgaccess/internal/user/domain"
)

// The helpers below never modify their input slice. Each returns the new
// list and whether it differs from the old one.

func indexOfAccess(access []userdomain.AccessEntry, orgID string) int {
	for i, entry := range access {
		if entry.OrganizationID == orgID {
			return i
		}
	}
	return -1
}

func upsertAccess(access []userdomain.AccessEntry, orgID, level string) ([]userdomain.AccessEntry, bool) {
	idx := indexOfAccess(access, orgID)
	if idx >= 0 && access[idx].AccessLevel == level {
		return access, false
	}

	out := make([]userdomain.AccessEntry, len(access), len(access)+1)
	copy(out, access)
	if idx >= 0 {
		out[idx].AccessLevel = level
		return out, true
	}
	return append(out, userdomain.AccessEntry{OrganizationID: orgID, AccessLevel: level}), true
}

func setAccessLevel(access []userdomain.AccessEntry, orgID, level string) ([]userdomain.AccessEntry, bool, error) {
	idx := indexOfAccess(access, orgID)
	if idx < 0 {
		return access, false, domain.ErrMembershipNotFound
	}
	if access[idx].AccessLevel == level {
		return access, false, nil
	}

	out := make([]userdomain.AccessEntry, len(access))
	copy(out, access)
	out[idx].AccessLevel = level
	return out, true, nil
}

func removeAccess(access []userdomain.AccessEntry, orgID string) ([]userdomain.AccessEntry, bool) {
	out := make([]userdomain.AccessEntry, 0, len(access))
	for _, entry := range access {
		if entry.OrganizationID != orgID {
			out = append(out, entry)
		}
	}
	if len(out) == len(access) {
		return access, false
	}
	return out, true
}

func hasMember(usersID []string, userID string) bool {
	for _, id := range usersID {
		if id == userID {
			return true
		}
	}
	return false
}

func appendMember(usersID []string, userID string) ([]string, bool) {
	if hasMember(usersID, userID) {
		return usersID, false
	}
	out := make([]string, len(usersID), len(usersID)+1)
	copy(out, usersID)
	return append(out, userID), true
}

func removeMember(usersID []string, userID string) ([]string, bool) {
	out := make([]string, 0, len(usersID))
	for _, id := range usersID {
		if id != userID {
			out = append(out, id)
		}
	}
	if len(out) == len(usersID) {
		return usersID, false
	}
	return out, true
}
