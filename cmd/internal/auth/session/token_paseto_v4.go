package session

import (
	"strings"
	"time"

	"aidanwoods.dev/go-paseto"
)

const pasetoV4PublicPrefix = "v4.public."

// AccessClaims is the claim set carried by a signed access token.
//
// Tokens are self-contained: Validate can authenticate a bearer without a
// store round trip, except for the denylist check and dependent liveness.
type AccessClaims struct {
	// PrincipalID is the authenticated principal's ULID ("pid" claim).
	PrincipalID string

	// Role is "guardian" or "dependent" ("role" claim).
	Role string

	// SessionID identifies the login session the token belongs to ("sid"
	// claim). It is stable across refresh rotations.
	SessionID string

	// GuardianID is the owning guardian's ULID ("gid" claim). For guardians
	// it equals PrincipalID; for dependents it names the account owner.
	GuardianID string

	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// TokenIssuer signs and verifies PASETO v4.public access tokens.
type TokenIssuer struct {
	cfg    Config
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewTokenIssuer builds a TokenIssuer from the configured hex-encoded Ed25519
// secret key. Returns ErrConfig when the key material is absent or malformed.
func NewTokenIssuer(cfg Config) (*TokenIssuer, error) {
	if cfg.PasetoV4SecretKeyHex == "" {
		return nil, ErrConfig
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &TokenIssuer{
		cfg:    cfg,
		secret: secret,
		public: secret.Public(),
	}, nil
}

// Issue signs an access token for the given claims. The Expires/Issued/Issuer
// fields of claims are ignored; they are derived from cfg and now.
//
// Timestamps are truncated to whole seconds before signing: RFC 3339 claims
// carry second precision, and the returned expiry must equal the one a later
// Verify reads back out of the token.
func (ti *TokenIssuer) Issue(claims AccessClaims, now time.Time) (string, time.Time, error) {
	if claims.PrincipalID == "" || claims.SessionID == "" || claims.GuardianID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	now = now.Truncate(time.Second)
	exp := now.Add(ti.cfg.AccessTTLFor(claims.Role))

	t := paseto.NewToken()
	t.SetIssuer(ti.cfg.Issuer)
	t.SetIssuedAt(now)
	t.SetNotBefore(now)
	t.SetExpiration(exp)
	t.SetString("pid", claims.PrincipalID)
	t.SetString("role", claims.Role)
	t.SetString("sid", claims.SessionID)
	t.SetString("gid", claims.GuardianID)

	return t.V4Sign(ti.secret, nil), exp, nil
}

// Verify parses and verifies a signed access token, classifying failures:
//
//   - empty string: ErrNoToken
//   - not a v4.public token: ErrTokenMalformed
//   - bad signature or undecodable payload: ErrSignatureInvalid
//   - valid signature but expired: ErrTokenExpired
//   - valid signature but missing claims: ErrInvalidToken
//
// Expiry is checked here against now with the configured skew, rather than by
// the library parser, so that callers supply the clock explicitly.
func (ti *TokenIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	if token == "" {
		return AccessClaims{}, ErrNoToken
	}
	if !strings.HasPrefix(token, pasetoV4PublicPrefix) {
		return AccessClaims{}, ErrTokenMalformed
	}

	parser := paseto.NewParserWithoutExpiryCheck()
	parsed, err := parser.ParseV4Public(ti.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrSignatureInvalid
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if now.After(exp.Add(ti.cfg.ClockSkew)) {
		return AccessClaims{}, ErrTokenExpired
	}

	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	iss, err := parsed.GetIssuer()
	if err != nil || iss != ti.cfg.Issuer {
		return AccessClaims{}, ErrInvalidToken
	}

	claims := AccessClaims{ExpiresAt: exp, IssuedAt: iat, Issuer: iss}
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"pid", &claims.PrincipalID},
		{"role", &claims.Role},
		{"sid", &claims.SessionID},
		{"gid", &claims.GuardianID},
	} {
		v, err := parsed.GetString(f.key)
		if err != nil || v == "" {
			return AccessClaims{}, ErrInvalidToken
		}
		*f.dst = v
	}
	if claims.Role != "guardian" && claims.Role != "dependent" {
		return AccessClaims{}, ErrInvalidToken
	}

	return claims, nil
}
