// Package apikey issues bearer API keys. A raw key is returned once at
// creation; only its bcrypt hash and lookup prefix are stored.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Prefix starts every issued key so leaked keys are recognizable.
const Prefix = "agp_"

// PrefixLen is how much of a raw key is stored in clear for lookup.
const PrefixLen = 8

var (
	ErrInvalidName = errors.New("key name is required")
	ErrInvalidRole = errors.New("invalid role")
)

// Roles lists every role a key may carry.
var Roles = []string{models.RoleFarmer, models.RoleVerifier, models.RoleAdmin}

// Creator persists new keys.
type Creator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// Issue generates a key with the given roles and stores it. It returns the
// stored record and the raw key.
func Issue(ctx context.Context, c Creator, name string, roles []string) (*models.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", ErrInvalidName
	}
	if len(roles) == 0 {
		return nil, "", fmt.Errorf("%w: at least one role is required", ErrInvalidRole)
	}
	for _, r := range roles {
		if !slices.Contains(Roles, r) {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidRole, r)
		}
	}

	raw, err := generate()
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Roles:     slices.Clone(roles),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, raw, nil
}

func generate() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + hex.EncodeToString(b), nil
}
