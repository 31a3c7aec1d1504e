// Package handler implements the HTTP handlers for the session API and
// operational endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tourwise/gatekeeper/pkg/apierror"
)

var validate = validator.New()

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// decodeJSON decodes and validates a request body into dst. dst must be a
// pointer to a struct with validate tags.
func decodeJSON(r *http.Request, dst any) *apierror.Error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierror.New(http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
				"Request body too large")
		}
		return apierror.BadRequest("Invalid request body")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			return apierror.ValidationFailed("Request validation failed", details)
		}
		return apierror.BadRequest("Invalid request body")
	}

	return nil
}
