// Package guard holds the stateless input integrity checks run at the
// request boundary. Every check returns nil or a *Violation; callers hand
// the violation to the central error mapper, which records the matching
// security event and writes a sanitized response.
package guard

import (
	"fmt"

	"github.com/mediatech/mediatech-auth/internal/model"
)

// Kind discriminates violations
type Kind string

const (
	KindInjection          Kind = "INJECTION"
	KindMassAssignment     Kind = "MASS_ASSIGNMENT"
	KindUnauthorizedAccess Kind = "UNAUTHORIZED_ACCESS"
)

// Actor is the authenticated principal on whose behalf a check runs
type Actor struct {
	Username string
	Role     model.Role
}

// Name returns the username or "anonymous" for an empty actor
func (a Actor) Name() string {
	if a.Username == "" {
		return "anonymous"
	}
	return a.Username
}

// IsAdmin reports whether the actor holds the ADMIN role
func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// Violation is returned by every guard. Only the error mapper looks inside.
type Violation struct {
	Kind  Kind
	Actor string
	// Field is the offending input or protected field name
	Field string
	// Sample is a truncated, single-line copy of the offending input
	Sample string
	// Resource is the object an IDOR attempt targeted
	Resource string
	Reason   string
}

func (v *Violation) Error() string {
	switch v.Kind {
	case KindInjection:
		return fmt.Sprintf("potential SQL injection in field %q", v.Field)
	case KindMassAssignment:
		return fmt.Sprintf("attempt by %s to modify protected field %q", v.Actor, v.Field)
	case KindUnauthorizedAccess:
		return fmt.Sprintf("unauthorized access by %s to %s", v.Actor, v.Resource)
	}
	return v.Reason
}
