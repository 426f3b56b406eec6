package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/devtrackhq/devtrack/internal/web/api"
)

// handleSignup handles new account requests.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusConflict, "Email is already registered")
		case errors.Is(err, ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "A valid email address is required")
		default:
			s.logger.Error().Err(err).Msg("Signup error")
			writeError(w, http.StatusInternalServerError, "Signup failed")
		}
		return
	}

	if s.mailer != nil {
		if err := s.mailer.EnqueueWelcome(r.Context(), *user); err != nil {
			s.logger.Warn().Err(err).Str("email", user.Email).Msg("Failed to enqueue welcome mail")
		}
	}

	WriteJSON(w, http.StatusCreated, UserInfo{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})

	s.logger.Info().Str("email", user.Email).Msg("User signed up")
}

// handleLogin handles user login requests.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	session, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrOAuthOnlyAccount) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		s.logger.Error().Err(err).Msg("Login error")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	s.setAuthCookies(w, token, session)

	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User: UserInfo{
			ID:    session.UserID,
			Email: session.Email,
		},
	})

	s.logger.Info().
		Str("email", req.Email).
		Str("session_id", session.ID).
		Msg("User logged in")
}

// setAuthCookies sets the token and session cookies after a login.
func (s *Server) setAuthCookies(w http.ResponseWriter, token string, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     "devtrack_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     "devtrack_session",
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := api.GetSessionFromContext(r.Context())
	if sessionID == "" {
		cookie, err := r.Cookie("devtrack_session")
		if err == nil {
			sessionID = cookie.Value
		}
	}

	if sessionID != "" {
		if err := s.auth.Logout(sessionID); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Logout error")
		}
	}

	// Clear cookies
	http.SetCookie(w, &http.Cookie{
		Name:     "devtrack_token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     "devtrack_session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})

	WriteJSON(w, http.StatusOK, SuccessResponse{
		Message: "Logged out successfully",
	})

	s.logger.Info().Str("session_id", sessionID).Msg("User logged out")
}

// handleMe returns the current user information.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	user, err := s.store.Users().Get(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	WriteJSON(w, http.StatusOK, UserInfo{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
}

// handleChangePassword handles password change requests.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "New password is required")
		return
	}

	if err := s.auth.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid current password")
		case errors.Is(err, ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, "New password must be at least 8 characters")
		default:
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Password change error")
			writeError(w, http.StatusInternalServerError, "Failed to change password")
		}
		return
	}

	WriteJSON(w, http.StatusOK, SuccessResponse{
		Message: "Password changed successfully",
	})

	s.logger.Info().Str("user_id", userID).Msg("User changed password")
}
