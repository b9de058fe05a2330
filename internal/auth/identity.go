// Package auth resolves the signed-in user from the bearer token.
//
// The client never holds the signing key, so tokens are decoded without
// signature verification. The backend verifies every request; the decoded
// identity only selects the private push destination and labels the UI.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "campusdesk.io/notify/internal/pkg/errors"
)

// Role is the academic role of a user.
type Role string

const (
	RoleHOD     Role = "HOD"
	RoleFaculty Role = "FACULTY"
	RoleStudent Role = "STUDENT"
)

// ParseRole accepts a role name in any case, with or without the ROLE_
// prefix used by Spring Security.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ROLE_"))
	switch r {
	case RoleHOD, RoleFaculty, RoleStudent:
		return r, true
	}
	return "", false
}

// FlexString decodes a JSON string or number into its textual form.
type FlexString string

// UnmarshalJSON accepts a string, a number or null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Claims is the payload of a Campus Desk bearer token.
type Claims struct {
	UserID   FlexString `json:"user_id,omitempty"`
	Username string     `json:"username,omitempty"`
	Role     string     `json:"role,omitempty"`
	Roles    []string   `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the signed-in user.
type Identity struct {
	UserID    string
	Username  string
	Role      Role
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry before now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ParseToken decodes token into an Identity. The user id comes from the
// user_id claim, falling back to sub. The first recognised role among role
// and roles wins.
func ParseToken(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if rest, ok := strings.CutPrefix(token, "Bearer"); ok && (rest == "" || rest[0] == ' ') {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return Identity{}, apperrors.Unauthorized(apperrors.CodeTokenMissing, "no bearer token")
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, apperrors.ErrTokenInvalidf(err)
	}

	id := Identity{
		UserID:   string(claims.UserID),
		Username: claims.Username,
	}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return Identity{}, apperrors.ErrTokenInvalidf(fmt.Errorf("token has neither user_id nor sub"))
	}
	if id.Username == "" {
		id.Username = claims.Subject
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}

	for _, candidate := range append([]string{claims.Role}, claims.Roles...) {
		if r, ok := ParseRole(candidate); ok {
			id.Role = r
			break
		}
	}
	return id, nil
}
