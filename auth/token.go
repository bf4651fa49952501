package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skryldev/socialhub/apierr"
)

const bearerPrefix = "bearer "

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", apierr.New(apierr.ErrMissingToken, "Bearer token not found")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", apierr.New(apierr.ErrMissingToken, "Bearer token not found")
	}
	return token, nil
}

// VerifyBearerToken checks an HS256 token against secret and returns its
// subject. Checks run in a fixed order: signature and structure, then
// expiry, then issuer.
func VerifyBearerToken(token string, secret []byte, issuer string, now time.Time) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// expiry and issuer are checked below so each gets its own error
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", apierr.Wrap(apierr.ErrInvalidToken, err, "Invalid token")
	}

	if claims.ExpiresAt == nil {
		return "", apierr.New(apierr.ErrInvalidToken, "Invalid token: no expiry")
	}
	if !claims.ExpiresAt.Time.After(now) {
		return "", apierr.New(apierr.ErrTokenExpired, "Token expired")
	}
	if claims.Issuer != issuer {
		return "", apierr.New(apierr.ErrTokenWrongAudience, "Token was not issued for this host")
	}
	if claims.Subject == "" {
		return "", apierr.New(apierr.ErrInvalidToken, "Invalid token: no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for subject valid for ttl from now.
func IssueToken(subject, issuer string, secret []byte, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
