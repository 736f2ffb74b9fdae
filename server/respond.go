package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/tbxark/formpilot/auth"
	"github.com/tbxark/formpilot/mutation"
	"github.com/tbxark/formpilot/patch"
	"github.com/tbxark/formpilot/provider"
	"github.com/tbxark/formpilot/session"
	"github.com/tbxark/formpilot/store"
)

const (
	maxBodyBytesSmall   int64 = 64 << 10
	maxBodyBytesSession int64 = 4 << 20
)

var (
	errBadRequest    = errors.New("bad request")
	errNotConfigured = errors.New("not configured")
	errBodyTooLarge  = errors.New("request body too large")
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Status: status}
	var mErr *mutation.Error
	if errors.As(err, &mErr) {
		resp.Code = string(mErr.Code)
	}
	if status == http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
	}
	resp.Retryable = errors.Is(err, provider.ErrTransient) || errors.Is(err, store.ErrBusy)
	respondJSON(w, status, resp)
}

func statusFor(err error) int {
	var mErr *mutation.Error
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, patch.ErrInvalidPatch),
		errors.Is(err, patch.ErrPathNotAllowed):
		return http.StatusBadRequest
	case errors.As(err, &mErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrBusy),
		errors.Is(err, provider.ErrAlreadySynced):
		return http.StatusConflict
	case errors.Is(err, store.ErrNoCredential):
		return http.StatusPreconditionRequired
	case errors.Is(err, errNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, provider.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body required", errBadRequest)
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w (max %d bytes)", errBodyTooLarge, maxBytes)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%w: request body required", errBadRequest)
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseIfMatch accepts 3, "3" and W/"3". An empty header yields nil.
func parseIfMatch(header string) (*int64, error) {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return nil, nil
	}
	header = strings.TrimPrefix(header, "W/")
	header = strings.Trim(header, `"`)
	v, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: If-Match must be a form version", errBadRequest)
	}
	return &v, nil
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, key)
	}
	return v, nil
}
