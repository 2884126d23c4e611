package authapi

import (
	"time"

	"perch/cmd/internal/auth/session"
)

type guardianLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type dependentLoginRequest struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type principalResponse struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	GuardianID string `json:"guardian_id"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	Principal principalResponse `json:"principal"`
	Session   sessionResponse   `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type validateResponse struct {
	Principal principalResponse `json:"principal"`
	SessionID string            `json:"session_id"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func toSessionResponse(issued session.Issued, now time.Time) sessionResponse {
	return sessionResponse{
		SessionID:        issued.SessionID,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		ExpiresInSeconds: int64(issued.AccessExp.Sub(now).Seconds()),
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}
