package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/util"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "astra"}))
}

// sessionStatus is the admin view of a session. The raw phone number and
// identity reference stay out of it.
type sessionStatus struct {
	PhoneHash   string    `json:"phone_hash"`
	Stage       string    `json:"stage"`
	Verified    bool      `json:"verified"`
	Locked      bool      `json:"locked"`
	OTPAttempts int       `json:"otp_attempts"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) sessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	sess, err := s.store.GetSession(r.Context(), phone)
	if err != nil {
		slog.Error("Server sessionStatusHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	verified, err := s.store.IsVerified(r.Context(), phone)
	if err != nil {
		slog.Error("Server sessionStatusHandler verification check failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionStatus{
		PhoneHash:   sess.PhoneHash,
		Stage:       string(sess.Stage),
		Verified:    verified,
		Locked:      sess.IsLocked,
		OTPAttempts: sess.OTPAttempts,
		ExpiresAt:   sess.ExpiresAt,
	}))
}

func (s *Server) sessionResetHandler(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if err := s.store.ResetOTPAttempts(r.Context(), phone); err != nil {
		if err == models.ErrSessionNotFound {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server sessionResetHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset session"))
		return
	}
	slog.Info("Server session attempts reset", "phoneHash", util.HashPhone(phone))
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
