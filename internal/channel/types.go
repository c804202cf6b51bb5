package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the storefront platform behind a sales channel.
type Type string

const (
	// TypeCafe24 is the only platform currently wired. The column check
	// constraint mirrors this list.
	TypeCafe24 Type = "CAFE24"
)

// ParseType normalizes and validates a channel type value.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeCafe24:
		return t, nil
	default:
		return "", fmt.Errorf("unknown channel type %q", s)
	}
}

// Channel is one registered sales channel.
type Channel struct {
	ChannelID   uuid.UUID `json:"channel_id"`
	ChannelCode string    `json:"channel_code"`
	ChannelType Type      `json:"channel_type"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccountStatus tracks the health of a channel's API credentials.
type AccountStatus string

const (
	AccountActive  AccountStatus = "ACTIVE"
	AccountExpired AccountStatus = "EXPIRED"
	AccountRevoked AccountStatus = "REVOKED"
)

// Account holds the OAuth credentials for pushing prices to a channel.
// Tokens never appear in API responses.
type Account struct {
	AccountID      uuid.UUID     `json:"account_id"`
	ChannelID      uuid.UUID     `json:"channel_id"`
	MallID         string        `json:"mall_id"`
	AccessToken    string        `json:"-"`
	RefreshToken   string        `json:"-"`
	TokenExpiresAt time.Time     `json:"token_expires_at"`
	Status         AccountStatus `json:"status"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Usable reports whether the account can authenticate a push right now.
func (a Account) Usable(now time.Time) bool {
	if a.Status != AccountActive {
		return false
	}
	if a.AccessToken == "" {
		return false
	}
	return a.TokenExpiresAt.IsZero() || now.Before(a.TokenExpiresAt)
}
