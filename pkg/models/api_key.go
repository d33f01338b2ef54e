package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleFarmer   = "farmer"
	RoleVerifier = "verifier"
	RoleAdmin    = "admin"
)

// APIKey authenticates a dashboard or operator client.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Roles      []string   `db:"roles"        json:"roles"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// HasRole reports whether the key grants role. Admin keys grant every role.
func (k *APIKey) HasRole(role string) bool {
	for _, r := range k.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}
