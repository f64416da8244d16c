package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"foldershare/internal/auth"
	"foldershare/internal/errs"
	"foldershare/internal/logging"
)

// errorBody matches the {"detail": ...} shape clients already parse.
type errorBody struct {
	Detail string `json:"detail"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindPathTraversal:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindQuotaExceeded:
		return http.StatusInsufficientStorage
	case errs.KindInvalidName, errs.KindNotConfigured:
		return http.StatusBadRequest
	case errs.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err in full and sends only its public message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	log := logging.WithContext(r.Context()).With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", kind.String()),
		zap.Int("status", status),
	)
	fields := []zap.Field{zap.Error(err)}
	var e *errs.Error
	if errors.As(err, &e) && e.Err != nil {
		// Error() withholds path-bearing causes; the log keeps them
		fields = append(fields, zap.NamedError("cause", e.Err))
	}
	if status >= 500 {
		log.Error("request failed", fields...)
	} else {
		log.Debug("request rejected", fields...)
	}
	if kind == errs.KindAuth {
		auth.Challenge(w)
	}
	writeDetail(w, status, errs.PublicMessage(err))
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Detail: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
