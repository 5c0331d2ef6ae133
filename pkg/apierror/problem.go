package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultMessage is used as the problem detail when the error has no message.
const DefaultMessage = "API Error occurred. Please contact support or administrator."

// ContentTypeProblem is the media type of problem documents.
const ContentTypeProblem = "application/problem+json"

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// ToProblem converts any error into a problem document.
func ToProblem(err error) Problem {
	p := Problem{
		Title:  DefaultTitle,
		Status: http.StatusInternalServerError,
		Detail: messageOf(err),
	}

	var apiErr *Error
	var statusErr *StatusError
	switch {
	case errors.As(err, &apiErr):
		p.Status = validStatus(apiErr.StatusCode)
		if apiErr.Title != "" {
			p.Title = apiErr.Title
		}
	case errors.As(err, &statusErr):
		p.Status = validStatus(statusErr.StatusCode)
	case errors.Is(err, ErrMethodNotAllowed):
		p.Status = http.StatusMethodNotAllowed
	}

	return p
}

// WriteProblem renders err as a problem document and logs it.
func WriteProblem(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	p := ToProblem(err)
	if r != nil {
		p.Instance = r.URL.Path
	}

	event := logger.Error()
	if p.Status < http.StatusInternalServerError {
		event = logger.Warn()
	}
	event.Err(err).
		Str("title", p.Title).
		Str("detail", p.Detail).
		Int("status", p.Status).
		Str("instance", p.Instance).
		Msg("Problem detail error")

	w.Header().Set("Content-Type", ContentTypeProblem)
	w.WriteHeader(p.Status)
	if encErr := json.NewEncoder(w).Encode(p); encErr != nil {
		logger.Warn().Err(encErr).Msg("Failed to write problem document")
	}
}

func messageOf(err error) string {
	if err == nil {
		return DefaultMessage
	}
	if msg := err.Error(); strings.TrimSpace(msg) != "" {
		return msg
	}
	return DefaultMessage
}

// validStatus falls back to 500 for codes that are not HTTP statuses.
func validStatus(code int) int {
	if code < 100 || code > 599 || http.StatusText(code) == "" {
		return http.StatusInternalServerError
	}
	return code
}
