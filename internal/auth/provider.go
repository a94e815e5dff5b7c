package auth

import (
	"context"
	"fmt"
)

// Identity is the resolved identity behind a verified credential.
type Identity struct {
	UserID   string
	Username string
}

// Verifier validates bearer credentials and returns identities.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
	Name() string
}

// FailureReason classifies why a credential was rejected.
type FailureReason string

const (
	ReasonMalformed        FailureReason = "malformed"
	ReasonInvalidSignature FailureReason = "invalid_signature"
	ReasonExpired          FailureReason = "expired"
	ReasonRevoked          FailureReason = "revoked"
	ReasonMisconfigured    FailureReason = "misconfigured"
)

// VerificationError is a credential rejection with a machine-readable reason.
// It never carries the credential itself.
type VerificationError struct {
	Reason FailureReason
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("credential rejected: %s", e.Reason)
}

// Reason extracts the failure reason from a verification error, or "" if err
// is not a VerificationError.
func Reason(err error) FailureReason {
	if ve, ok := err.(*VerificationError); ok {
		return ve.Reason
	}
	return ""
}
