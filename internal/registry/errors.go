// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a registry error for HTTP mapping.
type Kind string

const (
	KindInvalidRequest Kind = "invalid-request"
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not-found"
	KindConflict       Kind = "conflict"
	KindIntegrity      Kind = "integrity"
	KindExternal       Kind = "external"
	KindInternal       Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindInvalidRequest: http.StatusBadRequest,
	KindUnauthorized:   http.StatusUnauthorized,
	KindForbidden:      http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindConflict:       http.StatusConflict,
	KindIntegrity:      http.StatusBadGateway,
	KindExternal:       http.StatusBadGateway,
	KindInternal:       http.StatusInternalServerError,
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// E tags err with a kind. A nil err stays nil.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Ef tags a new formatted error with a kind.
func Ef(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: errors.Errorf(format, args...)}
}

// KindOf extracts the kind of err; untagged errors are internal.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// errorBody is the crates.io-compatible error payload cargo understands.
type errorBody struct {
	Errors []errorDetail `json:"errors"`
}

type errorDetail struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	status := kindStatus[kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		log.Printf("%s error: %v", kind, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Errors: []errorDetail{{Detail: err.Error()}}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

// quickOk is the {"ok":true} ack cargo expects from write operations.
type quickOk struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}
