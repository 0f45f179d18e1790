package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/tabular/tabular-backend/pkg/errors"
)

// ErrorBody is the wire format of every error response
type ErrorBody struct {
	Message string `json:"message"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Error sends an error response in the {"message": ...} format
func Error(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		JSON(w, appErr.StatusCode, ErrorBody{Message: appErr.Message})
		return
	}

	JSON(w, http.StatusInternalServerError, ErrorBody{Message: "an unexpected error occurred"})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// DecodeJSON decodes the request body into the provided struct
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("BAD_REQUEST", "invalid JSON body", http.StatusBadRequest)
	}
	return nil
}
