package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iamanmiglani/Image-to-text/v1/core"
	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/session"
)

// statusFor maps an error class onto an HTTP status.
func statusFor(err error) int {
	switch {
	case session.IsOutOfOrder(err), errors.Is(err, turnerrors.ErrContention):
		return http.StatusConflict
	case errors.Is(err, turnerrors.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, turnerrors.ErrEvicted):
		return http.StatusGone
	case errors.Is(err, turnerrors.ErrEngine):
		return http.StatusBadGateway
	case errors.Is(err, turnerrors.ErrStoreUnavailable),
		errors.Is(err, turnerrors.ErrTimeout),
		errors.Is(err, turnerrors.ErrConnectionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error   string       `json:"error"`
	Session *sessionView `json:"session,omitempty"`
}

// fail writes err with the session it left behind. An ended session also
// drops the participant cookie.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, sess *session.Session) {
	code := statusFor(err)
	if errors.Is(err, core.ErrSessionEnded) {
		forget(w)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", code, "error", err)
	}
	body := errorBody{Error: err.Error()}
	if sess != nil && sess.Participant != "" {
		v := viewOf(*sess)
		body.Session = &v
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
