// Package response renders gateway results and errors as JSON documents.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

// RetryAfterSeconds is advertised on StoreUnavailable responses
const RetryAfterSeconds = 1

// ErrorDocument is the body of every failed request
type ErrorDocument struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	EntityType string `json:"entityType,omitempty"`
	Key        []any  `json:"key,omitempty"`
	Property   string `json:"property,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// NewErrorDocument describes err. Errors outside the gateway taxonomy are
// reported as StoreUnavailable.
func NewErrorDocument(err error) ErrorDocument {
	doc := ErrorDocument{
		Error:     string(ormerrors.StoreUnavailable),
		Message:   err.Error(),
		Retryable: true,
	}
	if kind := ormerrors.KindOf(err); kind != "" {
		doc.Error = string(kind)
		doc.Retryable = ormerrors.IsRetryable(err)
	}
	if oe, ok := ormerrors.As(err); ok {
		doc.EntityType = oe.EntityType
		doc.Key = oe.Key
		doc.Property = oe.Property
	}
	return doc
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind string) int {
	switch ormerrors.Kind(kind) {
	case ormerrors.UnknownType:
		return http.StatusNotFound
	case ormerrors.ValidationFailed, ormerrors.DanglingReference:
		return http.StatusBadRequest
	case ormerrors.UnresolvableDependencyCycle:
		return http.StatusUnprocessableEntity
	case ormerrors.ConcurrencyConflict, ormerrors.ReferentialIntegrityViolation:
		return http.StatusConflict
	case ormerrors.StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RenderError writes the error document for err with its mapped status
func RenderError(w http.ResponseWriter, err error) {
	doc := NewErrorDocument(err)
	status := StatusFor(doc.Error)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	JSON(w, status, doc)
}

// RenderBadRequest reports a malformed request as ValidationFailed
func RenderBadRequest(w http.ResponseWriter, err error) {
	RenderError(w, ormerrors.Wrap(ormerrors.ValidationFailed, err, "malformed request"))
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
		return
	}
	Raw(w, status, "application/json; charset=utf-8", body)
}

// Raw writes an already encoded body
func Raw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
