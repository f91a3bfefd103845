package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/httputil"
	"github.com/reliefwallet/credential-engine/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs server-side failures with their cause and writes the
// client-facing form.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFromCode(apperrors.GetCode(err)) >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.PayloadTooLarge()
		}
		return apperrors.ValidationError("Invalid JSON body")
	}
}

// parseCaseID normalizes a case id. Case ids are UUIDs; anything else is
// rejected before it reaches the database.
func parseCaseID(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return "", apperrors.MissingRequired("caseId")
	}
	if !util.IsValidUUID(id) {
		return "", apperrors.InvalidInput("caseId", "must be a UUID")
	}
	return id, nil
}
