package models

// Tokens holds the bearer token pair persisted across sessions.
type Tokens struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest is the body sent to the token refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is the body returned by the token refresh endpoint.
type RefreshResponse struct {
	Token string `json:"token"`
}
