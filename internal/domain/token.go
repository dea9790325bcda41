package domain

// Verification purposes bound into OTP records and verification tokens.
const (
	PurposeSignup = "signup"
	PurposeReset  = "reset"
)

// ValidPurpose reports whether p is a known verification purpose.
func ValidPurpose(p string) bool {
	return p == PurposeSignup || p == PurposeReset
}

// Identity is the payload carried by access and refresh tokens.
type Identity struct {
	SubjectID string `json:"sub_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
}

// Verification is the payload carried by verification tokens.
type Verification struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

// TokenPair is a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
