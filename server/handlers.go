package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tbxark/formpilot/auth"
	"github.com/tbxark/formpilot/patch"
	"github.com/tbxark/formpilot/session"
	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

func identity(r *http.Request) types.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func formID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "formID"))
	if id == "" {
		return "", fmt.Errorf("%w: form id is required", errBadRequest)
	}
	return id, nil
}

// ownedForm loads a form and checks it belongs to the caller.
func (s *Server) ownedForm(r *http.Request) (types.Form, error) {
	id, err := formID(r)
	if err != nil {
		return types.Form{}, err
	}
	form, err := s.deps.Forms.Get(r.Context(), id)
	if err != nil {
		return types.Form{}, err
	}
	if form.OwnerID != identity(r).UserID {
		return types.Form{}, store.ErrForbidden
	}
	return form, nil
}

func (s *Server) handleEditStream(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := decodeJSONBody(w, r, &req, maxBodyBytesSession); err != nil {
		respondError(w, err)
		return
	}
	sess, err := s.deps.Sessions.Open(r.Context(), identity(r), req)
	if err != nil {
		respondError(w, err)
		return
	}
	session.SetStreamHeaders(w.Header())
	w.Header().Set("X-Session-Id", sess.ID)
	w.WriteHeader(http.StatusOK)
	if _, err := sess.Stream(r.Context(), session.NewNDJSONWriter(w)); err != nil {
		slog.Warn("Session stream ended early", "session_id", sess.ID, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, err)
		return
	}
	result, err := s.deps.Forms.List(r.Context(), identity(r).UserID, store.NormalizePage(page, limit))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.ownedForm(r)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("ETag", etag(form.Version))
	respondJSON(w, http.StatusOK, form)
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	id, err := formID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	form, err := s.deps.Forms.Create(r.Context(), id, identity(r).UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("ETag", etag(form.Version))
	respondJSON(w, http.StatusCreated, form)
}

func (s *Server) handlePatchForm(w http.ResponseWriter, r *http.Request) {
	id, err := formID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	ifMatch, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		respondError(w, err)
		return
	}
	var ops []patch.Operation
	if err := decodeJSONBody(w, r, &ops, maxBodyBytesSmall); err != nil {
		respondError(w, err)
		return
	}
	form, err := s.deps.Editor.Edit(r.Context(), identity(r).UserID, id, ops, ifMatch)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("ETag", etag(form.Version))
	respondJSON(w, http.StatusOK, form)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	id, err := formID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.deps.Forms.Delete(r.Context(), id, identity(r).UserID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncForm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Syncer == nil {
		respondError(w, fmt.Errorf("forms provider %w", errNotConfigured))
		return
	}
	id, err := formID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	form, err := s.deps.Syncer.Sync(r.Context(), identity(r).UserID, id)
	if err != nil {
		slog.Warn("Form sync failed", "form_id", id, "error", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, form)
}

func (s *Server) handleGoogleAuthURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Google == nil {
		respondError(w, fmt.Errorf("google integration %w", errNotConfigured))
		return
	}
	state := uuid.NewString()
	respondJSON(w, http.StatusOK, map[string]string{"url": s.deps.Google.AuthCodeURL(state), "state": state})
}

type exchangeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleGoogleExchange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Google == nil {
		respondError(w, fmt.Errorf("google integration %w", errNotConfigured))
		return
	}
	var req exchangeRequest
	if err := decodeJSONBody(w, r, &req, maxBodyBytesSmall); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		respondError(w, fmt.Errorf("%w: code is required", errBadRequest))
		return
	}
	if err := s.deps.Google.Exchange(r.Context(), identity(r).UserID, req.Code); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
