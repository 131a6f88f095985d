package api

import (
	"encoding/json"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
)

// envelope is the body of every client-facing response.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// writeJSON is a helper to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError maps err onto the error taxonomy. Provider diagnostics and causes are
// logged, never written.
func writeError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	serviceErr := toServiceError(err)
	entry := logger.WithError(err).WithField("code", serviceErr.TextCode)
	var verr *domain.ValidationError
	if errors.As(err, &verr) && verr.Diagnostic != "" {
		entry = entry.WithField("diagnostic", verr.Diagnostic)
	}
	if serviceErr.Code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	writeJSON(w, serviceErr.Code, envelope{Success: false, Message: serviceErr.Message, Code: serviceErr.TextCode})
}

func toServiceError(err error) *goerrors.Error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		serviceErr := verr.ToServiceError()
		if serviceErr.Message == "" || verr.Kind == domain.ErrInternal {
			serviceErr.Message = "An unexpected error occurred"
		}
		return serviceErr
	}
	return domain.NewError(domain.ErrInternal, "", "An unexpected error occurred").ToServiceError()
}

func badRequest(message string) error {
	return domain.NewError(domain.ErrInvalidInput, "", "%s", message)
}
