package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

// MaxIdempotencyKeyLen acota el header Idempotency-Key.
const MaxIdempotencyKeyLen = 200

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
			return err == nil
		})
		_ = v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
			return ValidScopeName(fl.Field().String())
		})
		_ = v.RegisterValidation("idemkey", func(fl validator.FieldLevel) bool {
			k := strings.TrimSpace(fl.Field().String())
			return k != "" && len(k) <= MaxIdempotencyKeyLen
		})
	})
	return v
}

// FieldErrors mapea campo => mensaje legible.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Struct valida s con las tags `validate`. Devuelve FieldErrors si algo falla.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return translate(verrs)
}

// Var valida un valor suelto (p. ej. un header).
func Var(field string, value any, tag string) error {
	err := instance().Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := FieldErrors{}
	for _, e := range verrs {
		out[field] = message(field, e)
	}
	return out
}

func translate(verrs validator.ValidationErrors) FieldErrors {
	out := make(FieldErrors, len(verrs))
	for _, e := range verrs {
		name := e.Namespace()
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		out[name] = message(name, e)
	}
	return out
}

func message(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, e.Param())
	case "duration":
		return field + " must be a duration (e.g. 30s, 1m)"
	case "idemkey":
		return fmt.Sprintf("%s must be 1..%d characters", field, MaxIdempotencyKeyLen)
	case "scope":
		return field + " is not a valid scope name"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	default:
		return field + " is invalid"
	}
}
