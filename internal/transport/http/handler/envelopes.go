package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chatauth/internal/domain"
	"github.com/chatauth/internal/pkg/validate"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
}

// SuccessEnvelope answers OTP and logout calls.
type SuccessEnvelope struct {
	Success   bool       `json:"success"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// UserEnvelope wraps the public user view.
type UserEnvelope struct {
	User *domain.PublicUser `json:"user"`
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Validation("invalid request body", nil)
	}
	return validate.Struct(dst)
}
