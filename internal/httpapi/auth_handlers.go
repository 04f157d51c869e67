package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

type verifyOtpRequest struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.SignUpInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.SignUp(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.SignInInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.SignIn(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.ObserveSignIn("denied")
		}
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveSignIn("ok")
	_ = audit.LogEvent(r.Context(), "auth.signin", map[string]any{
		"user_id":   result.User.ID,
		"device_id": result.DeviceID,
	})

	// Tokens travel only in cookies; the body carries the sanitized user.
	a.setSessionCookies(w, result.DeviceID, result.Access, result.Refresh)
	writeJSON(w, http.StatusOK, result.User)
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	deviceID := cookieValue(r, deviceCookieName)
	if deviceID != "" {
		if err := a.auth.SignOut(r.Context(), deviceID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.signout", map[string]any{
			"device_id": deviceID,
		})
	}
	a.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	deviceID := cookieValue(r, deviceCookieName)
	refresh := cookieValue(r, refreshCookieName)
	if deviceID == "" || refresh == "" {
		writeError(w, r, http.StatusUnauthorized, "missing session cookies")
		return
	}

	var req struct {
		StaySignedIn bool `json:"stay_signed_in"`
	}
	// The body is optional; absence means a short-lived refresh.
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	tokens, err := a.auth.RotateRefreshToken(r.Context(), deviceID, refresh, req.StaySignedIn)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setSessionCookies(w, tokens.DeviceID, tokens.Access, tokens.Refresh)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	expiresAt, err := a.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

func (a *API) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyOtpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "email and code are required")
		return
	}
	purpose := auth.Purpose(req.Purpose)
	if purpose == "" {
		purpose = auth.PurposeForgotPassword
	}

	result, err := a.auth.VerifyOtp(r.Context(), req.Email, req.Code, purpose)
	if err != nil {
		if errors.Is(err, auth.ErrOtpLocked) {
			obs.ObserveOtpLockout()
		}
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "otp.verify", map[string]any{
		"email":   req.Email,
		"purpose": string(purpose),
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	if err := a.auth.ResetPassword(r.Context(), req.Password, req.Token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset", nil)
	w.WriteHeader(http.StatusNoContent)
}
