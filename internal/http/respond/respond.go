// Package respond holds the JSON response helpers shared by handlers.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/clinic-admin/internal/validation"
)

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes {"error": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// Invalid writes a 400 with the validation details when err carries them.
func Invalid(w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		JSON(w, http.StatusBadRequest, verr.ToAPIError())
		return
	}
	Error(w, http.StatusBadRequest, err.Error())
}

// Decode reads a JSON body into dst, rejecting unknown trailing data.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
