// Package password hashes user passwords with Argon2id. Only the encoded
// hash is ever persisted.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost parameters written into every hash.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

func DefaultParams() Params {
	return Params{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) bool
}

type argonHasher struct {
	params Params
}

func NewHasher(params Params) Hasher {
	return argonHasher{params: params}
}

// NewDefaultHasher is the fx constructor.
func NewDefaultHasher() Hasher {
	return NewHasher(DefaultParams())
}

func (h argonHasher) Hash(plain string) (string, error) {
	p := h.params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h argonHasher) Verify(plain, encoded string) bool {
	params, salt, key, ok := decode(encoded)
	if !ok {
		return false
	}
	check := argon2.IDKey([]byte(plain), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, check) == 1
}

// Hash encodes plain with the default parameters.
func Hash(plain string) (string, error) {
	return NewDefaultHasher().Hash(plain)
}

// Verify checks plain against an encoded hash produced by any Hasher.
func Verify(plain, encoded string) bool {
	return NewDefaultHasher().Verify(plain, encoded)
}

func decode(encoded string) (Params, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Params{}, nil, nil, false
	}

	settings := strings.Split(parts[3], ",")
	if len(settings) != 3 {
		return Params{}, nil, nil, false
	}
	memory, ok := parseSetting(settings[0], "m=", 32)
	if !ok {
		return Params{}, nil, nil, false
	}
	timeCost, ok := parseSetting(settings[1], "t=", 32)
	if !ok {
		return Params{}, nil, nil, false
	}
	threads, ok := parseSetting(settings[2], "p=", 8)
	if !ok {
		return Params{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, false
	}

	params := Params{
		Time:    uint32(timeCost),
		Memory:  uint32(memory),
		Threads: uint8(threads),
		KeyLen:  uint32(len(key)),
		SaltLen: len(salt),
	}
	return params, salt, key, true
}

func parseSetting(raw, prefix string, bits int) (uint64, bool) {
	value, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseUint(value, 10, bits)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return parsed, true
}
