package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-provider-session/auth"
	"github.com/jrsteele09/go-provider-session/autherr"
	apperrors "github.com/jrsteele09/go-provider-session/internal/errors"
	"github.com/jrsteele09/go-provider-session/internal/utils"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxRequestBytes = 64 << 10

// StateResponse is the JSON projection of auth.State. Tokens are redacted.
type StateResponse struct {
	State      string           `json:"state"`
	Loading    bool             `json:"loading"`
	Generation uint64           `json:"generation"`
	Session    *session.Session `json:"session,omitempty"`
	LastError  *ErrorView       `json:"lastError,omitempty"`
}

type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewStateResponse builds the projection for st.
func NewStateResponse(st auth.State) StateResponse {
	resp := StateResponse{
		State:      st.Status.String(),
		Loading:    st.Loading,
		Generation: st.Generation,
		Session:    st.Session.Redacted(),
	}
	if st.LastError != nil {
		resp.LastError = utils.Ptr(ErrorView{
			Kind:    st.LastErrorKind.String(),
			Message: st.LastError.Error(),
		})
	}
	return resp
}

type loginRequest struct {
	AppToken          string   `json:"appToken"`
	ProviderToken     string   `json:"providerToken"`
	ProviderScope     []string `json:"providerScope"`
	ProviderTokenType *string  `json:"providerTokenType"`
}

type failureRequest struct {
	Source  string                 `json:"source"`
	Token   string                 `json:"token"`
	Status  *int                   `json:"status"`
	Errors  []autherr.PayloadError `json:"errors"`
	Message string                 `json:"message"`
}

// failure maps the report onto the shared taxonomy: a status or an error list is a received
// response, anything else is a call that never got one.
func (fr failureRequest) failure() error {
	if fr.Status == nil && len(fr.Errors) == 0 {
		msg := fr.Message
		if msg == "" {
			msg = "no response"
		}
		return autherr.Transport(fr.Source, errors.New(msg))
	}
	return autherr.FromResponse(fr.Source, utils.Value(fr.Status), autherr.Payload{Errors: fr.Errors})
}

type unauthenticatedRequest struct {
	Source       string          `json:"source"`
	ErrorPayload autherr.Payload `json:"errorPayload"`
}

type classificationResponse struct {
	Kind  string        `json:"kind"`
	State StateResponse `json:"state"`
}

// SessionStateHandler returns the current state snapshot
func (s *Server) SessionStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, NewStateResponse(s.sessions.State()))
	}
}

// LoginHandler accepts a login event. The attempt runs asynchronously; poll or watch for the outcome.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}

		err := s.sessions.Login(auth.LoginEvent{
			AppToken:          req.AppToken,
			ProviderToken:     req.ProviderToken,
			ProviderScope:     req.ProviderScope,
			ProviderTokenType: utils.Value(req.ProviderTokenType),
		})
		switch {
		case errors.Is(err, auth.ProviderTokenRequiredErr):
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "%v", err))
			return
		case errors.Is(err, auth.OrchestratorClosedErr):
			writeError(w, apperrors.Wrapf(apperrors.ErrUnavailable, "%v", err))
			return
		case err != nil:
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, NewStateResponse(s.sessions.State()))
	}
}

// LogoutHandler handles explicit sign-out
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.Logout(r.Context()); err != nil {
			// The in-memory logout has happened; only the persisted copy may linger.
			log.Err(err).Msg("Logout: failed to clear persisted session")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// FailureReportHandler accepts a provider call failure observed by a collaborator
func (s *Server) FailureReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req failureRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Source == "" {
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "source is required"))
			return
		}

		kind := s.sessions.ReportFailure(r.Context(), auth.Failure{
			Source: req.Source,
			Token:  req.Token,
			Err:    req.failure(),
		})
		writeJSON(w, http.StatusAccepted, classificationResponse{
			Kind:  kind.String(),
			State: NewStateResponse(s.sessions.State()),
		})
	}
}

// UnauthenticatedHandler accepts a detected-unauthenticated event
func (s *Server) UnauthenticatedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unauthenticatedRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Source == "" {
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "source is required"))
			return
		}

		kind := s.sessions.DetectedUnauthenticated(r.Context(), req.Source, req.ErrorPayload)
		writeJSON(w, http.StatusAccepted, classificationResponse{
			Kind:  kind.String(),
			State: NewStateResponse(s.sessions.State()),
		})
	}
}

// PreflightHandler answers OPTIONS requests after CorsMiddleware has set the headers
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "malformed request body (%v)", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the shared sentinels onto HTTP statuses. Anything unrecognised is logged and
// reported as an internal error without its detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidRequest):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case apperrors.Is(err, apperrors.ErrUnavailable):
		writeJSONError(w, "unavailable", err.Error(), http.StatusServiceUnavailable)
	default:
		log.Err(err).Msg("request failed")
		writeJSONError(w, "internal_error", apperrors.ErrInternal.Error(), http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
