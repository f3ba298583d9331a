package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled   = errors.New("authentication disabled")
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
	ErrKeyRevoked = errors.New("api key is disabled")
	ErrBlocked    = errors.New("client is temporarily blocked")
)

// Store abstracts the persistent API key catalogue used by the
// authentication service. Implementations must be safe for concurrent use.
type Store interface {
	FindKeyByDigest(ctx context.Context, digest string) (*APIKey, error)
}

// SeedWriter is implemented by stores that can upsert seed keys for
// bootstrapping.
type SeedWriter interface {
	ApplySeed(ctx context.Context, seed Seed) error
}

// APIKey represents a persisted credential. Only the SHA-256 digest of the
// key material is ever stored.
type APIKey struct {
	Name     string
	Digest   string
	Disabled bool
}

// Seed defines an API key to provision at startup. Key carries the raw
// secret; it is digested before storage.
type Seed struct {
	Name     string
	Key      string
	Disabled bool
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// Config configures the authentication service.
type Config struct {
	Mode              Mode
	MaxFailedAttempts int
	BlockDuration     time.Duration
	Seeds             []Seed
}

// DigestKey returns the hex encoded SHA-256 digest of the raw key material.
func DigestKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
