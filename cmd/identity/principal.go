package identity

import "time"

// Role identifies the principal class. The set is closed: guardian | dependent.
type Role string

const (
	// RoleGuardian is an adult account with email/password credentials.
	RoleGuardian Role = "guardian"
	// RoleDependent is a child account with username/PIN credentials,
	// scoped to exactly one guardian.
	RoleDependent Role = "dependent"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleGuardian || r == RoleDependent }

// Guardian is the adult principal. It owns zero or more dependents.
type Guardian struct {
	ID           string
	Email        string
	EmailNorm    string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
}

// Dependent is the child principal. GuardianID always references an existing
// guardian; an inactive dependent can never authenticate or keep a session alive.
type Dependent struct {
	ID           string
	GuardianID   string
	Username     string
	UsernameNorm string
	PINHash      string
	Active       bool
	CreatedAt    time.Time
}

// Principal is the closed tagged union over the two principal classes.
// Exactly one of Guardian/Dependent is non-nil, matching Role.
// Token payloads are decoded into this shape once at the boundary and never
// handled as an untyped map internally.
type Principal struct {
	Role      Role
	Guardian  *Guardian
	Dependent *Dependent
}

// GuardianPrincipal wraps a guardian in the union.
func GuardianPrincipal(g Guardian) Principal {
	return Principal{Role: RoleGuardian, Guardian: &g}
}

// DependentPrincipal wraps a dependent in the union.
func DependentPrincipal(d Dependent) Principal {
	return Principal{Role: RoleDependent, Dependent: &d}
}

// ID returns the principal's own id.
func (p Principal) ID() string {
	switch p.Role {
	case RoleGuardian:
		if p.Guardian != nil {
			return p.Guardian.ID
		}
	case RoleDependent:
		if p.Dependent != nil {
			return p.Dependent.ID
		}
	}
	return ""
}

// OwnerGuardianID returns the owning guardian's id for a dependent,
// and the guardian's own id for a guardian.
func (p Principal) OwnerGuardianID() string {
	switch p.Role {
	case RoleGuardian:
		if p.Guardian != nil {
			return p.Guardian.ID
		}
	case RoleDependent:
		if p.Dependent != nil {
			return p.Dependent.GuardianID
		}
	}
	return ""
}
