package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"perch/cmd/identity"
)

type fixture struct {
	cfg      Config
	svc      *Service
	mon      *Monitor
	refresh  *memRefreshStore
	sessions *memSessionStore
	liveness *memLiveness
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	tokens := testIssuer(t, cfg)
	refresh := newMemRefreshStore()
	sessions := newMemSessionStore()
	liveness := newMemLiveness()
	return &fixture{
		cfg:      cfg,
		svc:      NewService(cfg, tokens, refresh, sessions, NoopCache{}, NoopDenylist{}, liveness, nil),
		mon:      NewMonitor(cfg, tokens, refresh, sessions, NoopCache{}, NoopDenylist{}, liveness, nil, nil),
		refresh:  refresh,
		sessions: sessions,
		liveness: liveness,
	}
}

func dependentPrincipal() identity.Principal {
	return identity.DependentPrincipal(identity.Dependent{
		ID:         "01HDEPENDENT00000000000000",
		GuardianID: "01HGUARDIAN000000000000000",
		Username:   "testchild",
		Active:     true,
	})
}

func guardianPrincipal() identity.Principal {
	return identity.GuardianPrincipal(identity.Guardian{
		ID:    "01HGUARDIAN000000000000000",
		Email: "parent@example.com",
	})
}

func TestService_OpenAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if issued.SessionID == "" || issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("incomplete issue: %+v", issued)
	}

	claims, err := f.mon.Validate(ctx, issued.AccessToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.SessionID != issued.SessionID {
		t.Fatalf("sid = %q, want %q", claims.SessionID, issued.SessionID)
	}
	if claims.GuardianID != "01HGUARDIAN000000000000000" {
		t.Fatalf("gid = %q", claims.GuardianID)
	}

	row, err := f.sessions.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.DeviceInfo != "test-agent" {
		t.Fatalf("device info = %q, want %q", row.DeviceInfo, "test-agent")
	}
}

func TestService_RefreshKeepsSessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rotated, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.SessionID != issued.SessionID {
		t.Fatalf("session id changed: %q -> %q", issued.SessionID, rotated.SessionID)
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}

	// Rotation resets the idle window.
	sess, err := f.sessions.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !sess.LastActivityAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("LastActivityAt = %v", sess.LastActivityAt)
	}
}

func TestService_RefreshDoubleRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, now.Add(2*time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second redeem: %v, want ErrInvalidToken", err)
	}
}

func TestService_RefreshConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const parallel = 16
	var wg sync.WaitGroup
	errs := make([]error, parallel)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins, invalids int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidToken):
			invalids++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if invalids != parallel-1 {
		t.Fatalf("invalids = %d, want %d", invalids, parallel-1)
	}
}

func TestService_RefreshExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := f.svc.Open(ctx, now, guardianPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	late := now.Add(f.cfg.RefreshTTL + time.Hour)
	if _, err := f.svc.Refresh(ctx, late, issued.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired redeem: %v, want ErrTokenExpired", err)
	}
	// The expired row is gone; a replay is indistinguishable from garbage.
	if _, err := f.svc.Refresh(ctx, late, issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("replay after expiry: %v, want ErrInvalidToken", err)
	}
}

func TestService_RefreshInactiveDependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	f.liveness.set("01HDEPENDENT00000000000000", false)
	if _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken); !errors.Is(err, identity.ErrAccountInactive) {
		t.Fatalf("inactive refresh: %v, want ErrAccountInactive", err)
	}
}

func TestService_DependentIdleTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	idle := now.Add(f.cfg.DependentIdleTimeout + time.Minute)
	if _, err := f.svc.Refresh(ctx, idle, issued.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("idle refresh: %v, want ErrSessionExpired", err)
	}

	sess, err := f.sessions.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sess.Active || sess.EndReason != EndReasonExpiredIdle {
		t.Fatalf("session = %+v, want closed expired_idle", sess)
	}

	// Expiry revokes the session's refresh tokens, so the same token now
	// reads as revoked, not as expired-session again.
	if _, err := f.svc.Refresh(ctx, idle.Add(time.Second), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after expiry: %v, want ErrInvalidToken", err)
	}
}

func TestService_DependentAbsoluteTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Keep touching so the idle window never fires; the absolute cap still does.
	at := now
	for at.Sub(now) < f.cfg.DependentAbsoluteTimeout {
		at = at.Add(10 * time.Minute)
		_ = f.sessions.Touch(ctx, issued.SessionID, at)
	}

	if _, err := f.svc.Refresh(ctx, at, issued.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("absolute refresh: %v, want ErrSessionExpired", err)
	}
	sess, _ := f.sessions.GetByID(ctx, issued.SessionID)
	if sess.EndReason != EndReasonExpiredAbsolute {
		t.Fatalf("end reason = %q, want expired_absolute", sess.EndReason)
	}
}

func TestService_GuardianHasNoTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := f.svc.Open(ctx, now, guardianPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Far past both dependent windows but inside the refresh TTL.
	late := now.Add(3 * time.Hour)
	if _, err := f.svc.Refresh(ctx, late, issued.RefreshToken); err != nil {
		t.Fatalf("guardian refresh after 3h: %v", err)
	}
}

func TestService_LogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := f.svc.Open(ctx, now, guardianPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := f.svc.Logout(ctx, now, issued.SessionID, issued.AccessToken, issued.AccessExp); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := f.svc.Logout(ctx, now.Add(time.Second), issued.SessionID, "", time.Time{}); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	// Logging out an unknown session also succeeds.
	if err := f.svc.Logout(ctx, now, "01HNOSUCHSESSION0000000000", "", time.Time{}); err != nil {
		t.Fatalf("unknown logout: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after logout: %v, want ErrInvalidToken", err)
	}
}

func TestService_TerminateUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := f.svc.Terminate(ctx, now, "01HNOSUCHSESSION0000000000"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("terminate unknown: %v, want ErrSessionNotFound", err)
	}
}

func TestService_TerminateEndsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.svc.Terminate(ctx, now.Add(time.Second), issued.SessionID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	if _, err := f.mon.Validate(ctx, issued.AccessToken, now.Add(2*time.Second)); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("validate after terminate: %v, want ErrSessionInvalid", err)
	}
	if _, err := f.svc.Refresh(ctx, now.Add(2*time.Second), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after terminate: %v, want ErrInvalidToken", err)
	}
}

func TestService_TerminateAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	a, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := f.svc.Open(ctx, now.Add(time.Second), dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	closed, err := f.svc.TerminateAll(ctx, now.Add(time.Minute), "01HDEPENDENT00000000000000")
	if err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	if len(closed) != 2 {
		t.Fatalf("closed = %v, want both sessions", closed)
	}
	for _, issued := range []Issued{a, b} {
		if _, err := f.svc.Refresh(ctx, now.Add(2*time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("refresh after terminate-all: %v, want ErrInvalidToken", err)
		}
	}
}

func TestMonitor_EnforceTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	stale, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open stale: %v", err)
	}
	fresh, err := f.svc.Open(ctx, now.Add(f.cfg.DependentIdleTimeout), dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open fresh: %v", err)
	}

	closed, err := f.mon.EnforceTimeouts(ctx, now.Add(f.cfg.DependentIdleTimeout+time.Minute))
	if err != nil {
		t.Fatalf("EnforceTimeouts: %v", err)
	}
	if len(closed) != 1 || closed[0] != stale.SessionID {
		t.Fatalf("closed = %v, want only %q", closed, stale.SessionID)
	}
	if sess, _ := f.sessions.GetByID(ctx, fresh.SessionID); !sess.Active {
		t.Fatalf("fresh session closed by sweeper")
	}
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAuditor) SessionExpired(ctx context.Context, sessionID, principalID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sessionID+"/"+reason)
}

func TestMonitor_EnforceTimeoutsRevokesTokens(t *testing.T) {
	cfg := DefaultConfig()
	tokens := testIssuer(t, cfg)
	refresh := newMemRefreshStore()
	sessions := newMemSessionStore()
	liveness := newMemLiveness()
	liveness.set("01HDEPENDENT00000000000000", true)
	audit := &recordingAuditor{}

	svc := NewService(cfg, tokens, refresh, sessions, NoopCache{}, NoopDenylist{}, liveness, nil)
	mon := NewMonitor(cfg, tokens, refresh, sessions, NoopCache{}, NoopDenylist{}, liveness, audit, nil)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	later := now.Add(cfg.DependentIdleTimeout + time.Minute)
	closed, err := mon.EnforceTimeouts(ctx, later)
	if err != nil {
		t.Fatalf("EnforceTimeouts: %v", err)
	}
	if len(closed) != 1 || closed[0] != issued.SessionID {
		t.Fatalf("closed = %v, want %q", closed, issued.SessionID)
	}

	refresh.mu.Lock()
	for hash, row := range refresh.rows {
		if !row.Revoked {
			refresh.mu.Unlock()
			t.Fatalf("token %s still live after timeout sweep", hash)
		}
	}
	refresh.mu.Unlock()

	if _, err := svc.Refresh(ctx, later.Add(time.Second), issued.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after sweep: %v, want ErrInvalidToken", err)
	}

	want := issued.SessionID + "/" + EndReasonExpiredIdle
	if len(audit.events) != 1 || audit.events[0] != want {
		t.Fatalf("audit events = %v, want [%s]", audit.events, want)
	}
}

func TestRefreshStore_RedeemRevokedAndExpired(t *testing.T) {
	s := newMemRefreshStore()
	ctx := context.Background()
	now := time.Now().UTC()

	row := RefreshTokenRow{
		TokenHash:   "deadbeef",
		SessionID:   "01HSESSION0000000000000000",
		PrincipalID: "01HDEPENDENT00000000000000",
		Role:        "dependent",
		GuardianID:  "01HGUARDIAN000000000000000",
		IssuedAt:    now.Add(-8 * 24 * time.Hour),
		ExpiresAt:   now.Add(-24 * time.Hour),
		Revoked:     true,
	}
	if err := s.Insert(ctx, row); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Revoked wins over expired: the caller must not be able to tell a
	// redeemed token from one that never existed.
	err := s.Redeem(ctx, now, row.TokenHash, RefreshTokenRow{TokenHash: "replacement"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Redeem revoked+expired: %v, want ErrInvalidToken", err)
	}
}

func TestService_CacheFailuresAreAbsorbed(t *testing.T) {
	cfg := DefaultConfig()
	tokens := testIssuer(t, cfg)
	refresh := newMemRefreshStore()
	sessions := newMemSessionStore()
	liveness := newMemLiveness()
	liveness.set("01HDEPENDENT00000000000000", true)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	svc := NewService(cfg, tokens, refresh, sessions, failingCache{}, NoopDenylist{}, liveness, log)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open with broken cache: %v", err)
	}
	if err := svc.Logout(ctx, now.Add(time.Second), issued.SessionID, issued.AccessToken, issued.AccessExp); err != nil {
		t.Fatalf("Logout with broken cache: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "auth.session.cache_put.fail") {
		t.Fatalf("cache put failure not logged:\n%s", out)
	}
	if !strings.Contains(out, "auth.session.cache_delete.fail") {
		t.Fatalf("cache delete failure not logged:\n%s", out)
	}
}

type failingCache struct{}

func (failingCache) PutLogin(ctx context.Context, entry CacheEntry, ttl time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Get(ctx context.Context, sessionID string) (CacheEntry, error) {
	return CacheEntry{}, errors.New("cache down")
}

func (failingCache) Touch(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Delete(ctx context.Context, sessionID string) error {
	return errors.New("cache down")
}

func TestMonitor_ValidateInactiveDependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	f.liveness.set("01HDEPENDENT00000000000000", true)

	issued, err := f.svc.Open(ctx, now, dependentPrincipal(), "test-agent")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	f.liveness.set("01HDEPENDENT00000000000000", false)
	if _, err := f.mon.Validate(ctx, issued.AccessToken, now.Add(time.Second)); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("validate inactive: %v, want ErrSessionInvalid", err)
	}
}
