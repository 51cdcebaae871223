// Package httperr defines the Hub's typed error taxonomy and its
// translation to HTTP status codes and JSON envelopes. Components return
// these errors; only the front door (internal/httpserver) renders them.
package httperr

import (
	"encoding/json"
	"net/http"
)

// Kind identifies an error's place in the taxonomy from spec §7.
type Kind string

const (
	KindSetupRequired       Kind = "SetupRequired"
	KindAlreadyConfigured   Kind = "AlreadyConfigured"
	KindUnauthenticated     Kind = "Unauthenticated"
	KindForbidden           Kind = "Forbidden"
	KindUnknownTool         Kind = "UnknownTool"
	KindToolNotActivated    Kind = "ToolNotActivated"
	KindInvalidConfig       Kind = "InvalidConfig"
	KindNeedsOAuth          Kind = "NeedsOAuth"
	KindReauthRequired      Kind = "ReauthRequired"
	KindToolError           Kind = "ToolError"
	KindFrontmatterWriteErr Kind = "FrontmatterWriteFailed"
	KindRateLimited         Kind = "RateLimited"
	KindCryptoError         Kind = "CryptoError"
	KindNotFound            Kind = "NotFound"
	KindBadRequest          Kind = "BadRequest"
	KindConflict            Kind = "Conflict"
	KindInternal            Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindSetupRequired:       http.StatusConflict,
	KindAlreadyConfigured:   http.StatusConflict,
	KindUnauthenticated:     http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindUnknownTool:         http.StatusNotFound,
	KindToolNotActivated:    http.StatusNotFound,
	KindInvalidConfig:       http.StatusUnprocessableEntity,
	KindNeedsOAuth:          http.StatusConflict,
	KindReauthRequired:      http.StatusConflict,
	KindToolError:           http.StatusBadGateway,
	KindFrontmatterWriteErr: http.StatusInternalServerError,
	KindRateLimited:         http.StatusTooManyRequests,
	KindCryptoError:         http.StatusInternalServerError,
	KindNotFound:            http.StatusNotFound,
	KindBadRequest:          http.StatusBadRequest,
	KindConflict:            http.StatusConflict,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the concrete type every component returns for a classified
// failure. The wrapped Err is never rendered to the client directly —
// Details carries only what's safe to expose.
type Error struct {
	K       Kind
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.K]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func new(k Kind, msg string, err error, details map[string]any) *Error {
	return &Error{K: k, Message: msg, Err: err, Details: details}
}

func NewSetupRequired(redirectHint string) *Error {
	return new(KindSetupRequired, "setup required", nil, map[string]any{"redirect": redirectHint})
}
func NewAlreadyConfigured(msg string) *Error { return new(KindAlreadyConfigured, msg, nil, nil) }
func NewUnauthenticated(msg string) *Error   { return new(KindUnauthenticated, msg, nil, nil) }
func NewForbidden(reason string) *Error {
	return new(KindForbidden, "forbidden", nil, map[string]any{"reason": reason})
}
func NewUnknownTool(name string) *Error {
	return new(KindUnknownTool, "unknown tool", nil, map[string]any{"tool_name": name})
}
func NewToolNotActivated(name string) *Error {
	return new(KindToolNotActivated, "tool not activated", nil, map[string]any{"tool_name": name})
}
func NewInvalidConfig(fieldErrors map[string]string) *Error {
	details := make(map[string]any, 1)
	details["field_errors"] = fieldErrors
	return new(KindInvalidConfig, "invalid config", nil, details)
}
func NewNeedsOAuth(provider, authorizeURL string) *Error {
	return new(KindNeedsOAuth, "needs oauth", nil, map[string]any{
		"provider": provider, "authorize_url": authorizeURL,
	})
}
func NewReauthRequired(provider string, scopes []string, authorizeURL string) *Error {
	return new(KindReauthRequired, "reauth required", nil, map[string]any{
		"provider": provider, "scopes": scopes, "authorize_url": authorizeURL,
	})
}
func NewToolError(kind string, err error) *Error {
	return new(KindToolError, "tool error", err, map[string]any{"kind": kind})
}
func NewFrontmatterWriteFailed(err error, reconcileNeeded bool) *Error {
	return new(KindFrontmatterWriteErr, "frontmatter write failed", err, map[string]any{"reconcile_needed": reconcileNeeded})
}
func NewCryptoError(err error) *Error   { return new(KindCryptoError, "crypto error", err, nil) }
func NewNotFound(msg string) *Error     { return new(KindNotFound, msg, nil, nil) }
func NewBadRequest(msg string, err error) *Error {
	return new(KindBadRequest, msg, err, nil)
}
func NewConflict(msg string) *Error { return new(KindConflict, msg, nil, nil) }
func NewInternal(msg string, err error) *Error {
	return new(KindInternal, msg, err, nil)
}

// envelope is the wire shape from spec §7: {error: {code, message, details?}}.
type envelope struct {
	Error struct {
		Code    Kind           `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// WriteJSON renders err as the standard envelope. Non-*Error values are
// treated as KindInternal and their raw text is never echoed to the client.
func WriteJSON(w http.ResponseWriter, err error) {
	var e *Error
	if asErr, ok := err.(*Error); ok {
		e = asErr
	} else {
		e = NewInternal("internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	var env envelope
	env.Error.Code = e.K
	env.Error.Message = e.Message
	env.Error.Details = e.Details
	_ = json.NewEncoder(w).Encode(env)
}
