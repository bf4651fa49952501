package models

// Credential is the login material stored for one account in the "users"
// table. PasswordHash is a bcrypt hash, or the marker "SSO" for accounts
// managed by the identity provider, which can never log in with a password.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
}

// Account is the public projection of a "users" row. It never carries the
// password hash.
type Account struct {
	UserID   string `json:"userID"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// SSOPasswordMarker is stored instead of a hash for accounts created by the
// SSO webhook.
const SSOPasswordMarker = "SSO"
