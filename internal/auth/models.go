package auth

import (
	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

// AuthTokens represents the token pair returned to API clients
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Session is the result of signup, login and refresh.
type Session struct {
	User user.View `json:"user"`
	AuthTokens
	KeystoreID uuid.UUID `json:"-"`
}

type SignupInput struct {
	Email    string
	Password string
	Profile  user.Profile
}
