package dynamo

// Attribute and index names of the users table.
const (
	fieldUserID       = "user_id"
	fieldEmail        = "email"
	fieldUsername     = "username"
	fieldPasswordHash = "password_hash"
	fieldAuthProvider = "auth_provider"
	fieldProviderID   = "provider_id"
	fieldAvatarURL    = "avatar_url"
	fieldRefreshToken = "refresh_token"
	fieldUpdatedAt    = "updated_at"

	indexEmail    = "email-index"
	indexUsername = "username-index"
	indexProvider = "provider-index"
)
