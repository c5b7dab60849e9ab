package api

import (
	"errors"
	"log/slog"
	"net/http"

	"procodus.dev/water-monitor/internal/command"
	"procodus.dev/water-monitor/internal/ingest"
)

const (
	msgAuthFailed     = "Authentication failed"
	msgInternalServer = "Internal Server Error"
)

// HTTPError is an error with the status and message sent to the client.
type HTTPError struct {
	cause   error
	Code    int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

func (e *HTTPError) Unwrap() error { return e.cause }

func badRequest(message string, cause error) *HTTPError {
	return &HTTPError{Code: http.StatusBadRequest, Message: message, cause: cause}
}

// toHTTPError maps domain errors onto response codes.
func toHTTPError(err error) *HTTPError {
	var he *HTTPError
	var ve *ingest.ValidationError
	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &ve):
		return badRequest(ve.Error(), err)
	case errors.Is(err, command.ErrAuth):
		return &HTTPError{Code: http.StatusUnauthorized, Message: msgAuthFailed, cause: err}
	default:
		return &HTTPError{Code: http.StatusInternalServerError, Message: err.Error(), cause: err}
	}
}

// appHandler is a handler that reports failures by returning an error.
type appHandler func(w http.ResponseWriter, r *http.Request) error

// handle adapts an appHandler, turning a returned error into a JSON
// {"message": ...} response.
func (a *API) handle(h appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		he := toHTTPError(err)
		level := slog.LevelWarn
		if he.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.log.Log(r.Context(), level, "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", he.Code,
			"error", err,
		)
		writeJSON(w, he.Code, map[string]string{"message": he.Message})
	}
}
