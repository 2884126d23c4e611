package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testIssuer(t *testing.T, cfg Config) *TokenIssuer {
	t.Helper()
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()
	ti, err := NewTokenIssuer(cfg)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return ti
}

func testClaims() AccessClaims {
	return AccessClaims{
		PrincipalID: "01HDEPENDENT00000000000000",
		Role:        "dependent",
		SessionID:   "01HSESSION0000000000000000",
		GuardianID:  "01HGUARDIAN000000000000000",
	}
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	ti := testIssuer(t, DefaultConfig())
	now := time.Now().UTC()

	tok, exp, err := ti.Issue(testClaims(), now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Truncate(time.Second).Add(20 * time.Minute); !exp.Equal(want) {
		t.Fatalf("exp = %v, want %v", exp, want)
	}
	if exp.Nanosecond() != 0 {
		t.Fatalf("exp carries sub-second precision: %v", exp)
	}

	claims, err := ti.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.PrincipalID != "01HDEPENDENT00000000000000" ||
		claims.Role != "dependent" ||
		claims.SessionID != "01HSESSION0000000000000000" ||
		claims.GuardianID != "01HGUARDIAN000000000000000" {
		t.Fatalf("claims = %+v", claims)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", claims.ExpiresAt, exp)
	}
}

func TestTokenIssuer_GuardianTTL(t *testing.T) {
	cfg := DefaultConfig()
	ti := testIssuer(t, cfg)
	now := time.Now().UTC()

	c := testClaims()
	c.Role = "guardian"
	c.PrincipalID = c.GuardianID

	_, exp, err := ti.Issue(c, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Truncate(time.Second).Add(15 * time.Minute); !exp.Equal(want) {
		t.Fatalf("guardian exp = %v, want %v", exp, want)
	}

	cfg.RelaxedMode = true
	ti = testIssuer(t, cfg)
	_, exp, err = ti.Issue(c, now)
	if err != nil {
		t.Fatalf("Issue relaxed: %v", err)
	}
	if want := now.Truncate(time.Second).Add(2 * time.Hour); !exp.Equal(want) {
		t.Fatalf("relaxed exp = %v, want %v", exp, want)
	}
}

func TestTokenIssuer_VerifyClassification(t *testing.T) {
	ti := testIssuer(t, DefaultConfig())
	now := time.Now().UTC()

	if _, err := ti.Verify("", now); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty token: %v, want ErrNoToken", err)
	}
	if _, err := ti.Verify("not-a-paseto-token", now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("malformed token: %v, want ErrTokenMalformed", err)
	}
	if _, err := ti.Verify("v4.public.AAAA", now); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("garbage payload: %v, want ErrSignatureInvalid", err)
	}

	// Token signed with a different key fails signature verification.
	other := testIssuer(t, DefaultConfig())
	tok, _, err := other.Issue(testClaims(), now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := ti.Verify(tok, now); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("foreign key: %v, want ErrSignatureInvalid", err)
	}
}

func TestTokenIssuer_Expiry(t *testing.T) {
	ti := testIssuer(t, DefaultConfig())
	now := time.Now().UTC()

	tok, exp, err := ti.Issue(testClaims(), now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Within skew of expiry the token is still accepted.
	if _, err := ti.Verify(tok, exp.Add(10*time.Second)); err != nil {
		t.Fatalf("within skew: %v", err)
	}
	if _, err := ti.Verify(tok, exp.Add(time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("past skew: %v, want ErrTokenExpired", err)
	}
}

func TestTokenIssuer_WrongIssuerRejected(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()

	cfgA := DefaultConfig()
	cfgA.Issuer = "someone-else"
	cfgA.PasetoV4SecretKeyHex = secret.ExportHex()
	a, err := NewTokenIssuer(cfgA)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	cfgB := DefaultConfig()
	cfgB.PasetoV4SecretKeyHex = secret.ExportHex()
	b, err := NewTokenIssuer(cfgB)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := a.Issue(testClaims(), now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer mismatch: %v, want ErrInvalidToken", err)
	}
}
