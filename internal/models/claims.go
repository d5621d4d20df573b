package models

import "github.com/dgrijalva/jwt-go"

// Claims carried by the host app's session token. The embedding surface
// accepts requests only from an authenticated session.
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}
