package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may mutate stock and catalog records.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Warehouse struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

type Item struct {
	ID             string              `json:"id"`
	OrgID          string              `json:"org_id"`
	Name           string              `json:"name"`
	Unit           string              `json:"unit"`
	MinStock       decimal.Decimal     `json:"min_stock"`
	DefaultTagID   string              `json:"default_tag_id,omitempty"`
	TargetQuantity decimal.NullDecimal `json:"target_quantity"`
	IsDeleted      bool                `json:"is_deleted"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type StorageLocation struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Tag struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Caller is the authenticated identity handed over by the auth collaborator. OrgID is an
// optional hint selecting one of several memberships.
type Caller struct {
	UserID string
	OrgID  string
}

// AuthContext is the resolved tenant scope threaded through every mutation.
type AuthContext struct {
	UserID      string
	OrgID       string
	WarehouseID string
	Role        Role
}
