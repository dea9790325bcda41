package domain

import "time"

type OTPStatus string

const (
	OTPSent     OTPStatus = "SENT"
	OTPVerified OTPStatus = "VERIFIED"
)

// OTPRecord is the challenge stored per normalized identity.
type OTPRecord struct {
	Identity  string
	Purpose   string
	Code      string
	Attempts  int
	Status    OTPStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BlockRecord marks an identity as locked out of send and verify.
type BlockRecord struct {
	Identity  string
	BlockedAt time.Time
	ExpiresAt time.Time
}

type OTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=signup reset"`
}

type OTPVerifyRequest struct {
	Email   string `json:"email" validate:"required,email"`
	OTP     string `json:"otp" validate:"required"`
	Purpose string `json:"purpose" validate:"required,oneof=signup reset"`
}
