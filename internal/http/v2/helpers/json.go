package helpers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/leopass/internal/http/v2/errors"
	"github.com/dropDatabas3/leopass/internal/validation"
)

// MaxBodyBytes limita el body de los requests JSON.
const MaxBodyBytes = 64 << 10

// ReadJSON decodifica el body en v y lo valida con sus tags `validate`.
// Exige Content-Type JSON y rechaza campos desconocidos.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return errors.ErrBadRequest.WithDetail("Content-Type must be application/json")
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.As(err, &tooLarge):
			return errors.ErrBodyTooLarge
		case stderrors.Is(err, io.EOF):
			return errors.ErrMissingFields.WithDetail("empty body")
		default:
			return errors.ErrInvalidJSON.WithCause(err)
		}
	}
	if err := validation.Struct(v); err != nil {
		return errors.ErrMissingFields.WithDetail(err.Error()).WithCause(err)
	}
	return nil
}

// WriteJSON escribe una respuesta JSON estándar.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
