package models

import "github.com/golang-jwt/jwt/v5"

// UserClaims are issued by the session service; this service only validates them.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID      uint     `json:"user_id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission checks the explicit permissions, or the role defaults when
// the token carries none.
func (c *UserClaims) HasPermission(permission string) bool {
	if c.Role == "admin" {
		return true
	}
	granted := c.Permissions
	if len(granted) == 0 {
		granted = GetDefaultPermissions(c.Role)
	}
	for _, p := range granted {
		if p == permission {
			return true
		}
	}
	return false
}
