package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	dateLayout   = "2006-01-02"
	defaultLimit = 20
	maxLimit     = 100
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether the caller may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return false
	}
	if fields := validationErrors(validate.Struct(dst)); len(fields) > 0 {
		RespondValidationError(w, fields)
		return false
	}
	return true
}

func validationErrors(err error) []FieldError {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "body", Message: err.Error()}}
	}

	fields := make([]FieldError, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func idParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// pagination reads page (1-based) and limit from the query string.
func pagination(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func queryUUID(r *http.Request, key string, fields *[]FieldError) *uuid.UUID {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		*fields = append(*fields, FieldError{Field: key, Message: "must be a valid UUID"})
		return nil
	}
	return &id
}

func queryDate(r *http.Request, key string, fields *[]FieldError) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		*fields = append(*fields, FieldError{Field: key, Message: "must be a date in YYYY-MM-DD format"})
		return nil
	}
	return &d
}
