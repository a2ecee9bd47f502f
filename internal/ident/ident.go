// Package ident normalizes externally supplied identifiers into the
// canonical form used as lookup keys and relationship list entries.
package ident

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var ErrInvalidIdentifier = errors.New("invalid_identifier")

// Scheme describes the key format of the active store backend.
type Scheme interface {
	Name() string
	// Canonical returns the canonical spelling of id, or false if id is malformed.
	Canonical(id string) (string, bool)
	New() string
}

// Normalize trims raw and checks it is a well-formed key for scheme.
func Normalize(raw string, scheme Scheme) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" || scheme == nil {
		return "", ErrInvalidIdentifier
	}
	canonical, ok := scheme.Canonical(id)
	if !ok {
		return "", ErrInvalidIdentifier
	}
	return canonical, nil
}

// ObjectIDScheme accepts 24 character hex MongoDB object ids.
type ObjectIDScheme struct{}

func (ObjectIDScheme) Name() string { return "objectid" }

func (ObjectIDScheme) Canonical(id string) (string, bool) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return "", false
	}
	return oid.Hex(), true
}

func (ObjectIDScheme) New() string { return bson.NewObjectID().Hex() }

// SnowflakeScheme issues and accepts positive decimal snowflake ids.
type SnowflakeScheme struct {
	Node *snowflake.Node
}

func NewSnowflakeScheme(node *snowflake.Node) SnowflakeScheme {
	return SnowflakeScheme{Node: node}
}

func (SnowflakeScheme) Name() string { return "snowflake" }

func (SnowflakeScheme) Canonical(id string) (string, bool) {
	parsed, err := strconv.ParseInt(id, 10, 64)
	if err != nil || parsed <= 0 {
		return "", false
	}
	return strconv.FormatInt(parsed, 10), true
}

func (s SnowflakeScheme) New() string { return s.Node.Generate().String() }
