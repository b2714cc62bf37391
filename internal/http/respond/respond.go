// Package respond holds the JSON plumbing shared by the HTTP handlers.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Decode reads a JSON body into v and runs its validate tags.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.Field("request.invalid_json", "body", err.Error())
	}

	return Validate(v)
}

// DecodeString is Decode for a JSON document carried in a form field.
func DecodeString(s string, v any) error {
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return apperror.Field("request.invalid_json", "data", err.Error())
	}

	return Validate(v)
}

func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating request: %w", err)
	}

	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], describe(fe))
	}

	return apperror.Validation("request.invalid", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gtfield":
		return "must be after " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}

	return "is invalid (" + fe.Tag() + ")"
}

// Error writes err with the status its kind maps to. Unknown errors are
// logged and reported as a bare 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperror.As(err); ok {
		JSON(w, status(appErr.Kind), errorBody{Error: appErr.Key, Message: appErr.Message, Fields: appErr.Fields})
		return
	}

	if errors.Is(err, payment.ErrGatewayUnavailable) {
		slog.Error("payment gateway failure", "path", r.URL.Path, "error", err)
		JSON(w, http.StatusBadGateway, errorBody{Error: "payment.gateway_unavailable", Message: "payment gateway unavailable"})

		return
	}

	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	JSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
}

func status(k apperror.Kind) int {
	switch k {
	case apperror.KindValidation:
		return http.StatusUnprocessableEntity
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindForbidden:
		return http.StatusForbidden
	case apperror.KindConflict, apperror.KindInvalidState:
		return http.StatusConflict
	case apperror.KindPrecondition:
		return http.StatusPreconditionFailed
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized
	}

	return http.StatusInternalServerError
}
