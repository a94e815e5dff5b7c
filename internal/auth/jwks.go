package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier validates tokens issued by an external identity provider using
// its published JWKS. Revocation is the issuer's concern: there is no
// live-session store in this mode, so logout happens at the IdP.
type JWKSVerifier struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewJWKSVerifier fetches the JWKS from the issuer's well-known endpoint.
func NewJWKSVerifier(issuer string) (*JWKSVerifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("jwks issuer URL is required")
	}

	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSVerifier{issuer: issuer, jwks: jwks}, nil
}

// Name returns the provider name.
func (v *JWKSVerifier) Name() string { return "jwks" }

// Verify parses an externally issued JWT and returns an Identity.
func (v *JWKSVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, v.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, &VerificationError{Reason: ReasonMalformed}
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &VerificationError{Reason: ReasonExpired}
		default:
			return nil, &VerificationError{Reason: ReasonInvalidSignature}
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, &VerificationError{Reason: ReasonMalformed}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, &VerificationError{Reason: ReasonMalformed}
	}

	// Build a display name from available claims.
	username := sub
	switch {
	case claimStr(claims, "username") != "":
		username = claimStr(claims, "username")
	case claimStr(claims, "name") != "":
		username = claimStr(claims, "name")
	case claimStr(claims, "email") != "":
		username = claimStr(claims, "email")
	}

	return &Identity{UserID: sub, Username: username}, nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
