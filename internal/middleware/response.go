package middleware

import (
	"net/http"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/httputil"
)

func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	httputil.WriteError(w, err)
}
