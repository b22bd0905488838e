package models

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
}
