package oauth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

type TokenType string

const (
	TokenTypeBearer TokenType = "Bearer"
	TokenTypeDPoP   TokenType = "DPoP"
)

// Client secrets are stored as HMAC-SHA256(pepper[SecretPepperID], secret).
type Client struct {
	ID                uuid.UUID                   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ClientID          string                      `gorm:"not null;column:client_id" json:"client_id"`
	ClientName        string                      `gorm:"not null" json:"client_name"`
	ClientSecretHash  []byte                      `gorm:"type:bytea;column:client_secret" json:"-"`
	SecretPepperID    int                         `gorm:"not null;default:1" json:"-"`
	Confidential      bool                        `gorm:"not null;default:true" json:"confidential"`
	RedirectURIs      datatypes.JSONSlice[string] `gorm:"type:jsonb;not null;column:redirect_uris" json:"redirect_uris"`
	AllowedGrantTypes datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"allowed_grant_types"`
	Scopes            datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"scopes"`
	RequireDPoP       bool                        `gorm:"not null;default:false;column:require_dpop" json:"require_dpop"`
	CreatedAt         time.Time                   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time                   `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt         gorm.DeletedAt              `gorm:"index" json:"deleted_at,omitempty"`
}

func (Client) TableName() string { return "oauth_clients" }

func (c Client) AllowsGrant(g GrantType) bool {
	for _, v := range c.AllowedGrantTypes {
		if v == string(g) {
			return true
		}
	}
	return false
}

func (c Client) AllowsRedirect(uri string) bool {
	for _, v := range c.RedirectURIs {
		if v == uri {
			return true
		}
	}
	return false
}

// AuthCode is single use: consumption flips Used in the same statement that reads it.
type AuthCode struct {
	ID                  uuid.UUID                   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Digest              []byte                      `gorm:"type:bytea;not null" json:"-"`
	PepperID            int                         `gorm:"not null" json:"-"`
	UserID              uuid.UUID                   `gorm:"type:uuid;not null;index" json:"user_id"`
	ClientID            uuid.UUID                   `gorm:"type:uuid;not null;index" json:"client_id"`
	RedirectURI         string                      `gorm:"not null" json:"redirect_uri"`
	Scopes              datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"scopes"`
	Nonce               *string                     `json:"nonce,omitempty"`
	CodeChallenge       string                      `gorm:"not null" json:"code_challenge"`
	CodeChallengeMethod string                      `gorm:"not null;default:'S256'" json:"code_challenge_method"`
	DPoPJkt             *string                     `gorm:"column:dpop_jkt" json:"dpop_jkt,omitempty"`
	AuthTime            time.Time                   `gorm:"not null;default:now()" json:"auth_time"`
	ExpiresAt           time.Time                   `gorm:"not null;index" json:"expires_at"`
	Used                bool                        `gorm:"not null;default:false" json:"used"`
	Metadata            datatypes.JSON              `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt           time.Time                   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"not null;default:now()" json:"updated_at"`
}

func (AuthCode) TableName() string { return "oauth_auth_codes" }

type AccessToken struct {
	ID        uuid.UUID                   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Digest    []byte                      `gorm:"type:bytea;not null" json:"-"`
	PepperID  int                         `gorm:"not null" json:"-"`
	UserID    *uuid.UUID                  `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ClientID  uuid.UUID                   `gorm:"type:uuid;not null;index" json:"client_id"`
	Scopes    datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"scopes"`
	Jti       string                      `gorm:"not null" json:"jti"`
	TokenType TokenType                   `gorm:"type:text;not null;default:'Bearer'" json:"token_type"`
	DPoPJkt   *string                     `gorm:"column:dpop_jkt" json:"dpop_jkt,omitempty"`
	ExpiresAt time.Time                   `gorm:"not null;index" json:"expires_at"`
	Revoked   bool                        `gorm:"not null;default:false" json:"revoked"`
	CreatedAt time.Time                   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt              `gorm:"index" json:"deleted_at,omitempty"`
}

func (AccessToken) TableName() string { return "oauth_access_tokens" }

type RefreshToken struct {
	ID          uuid.UUID                   `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Digest      []byte                      `gorm:"type:bytea;not null" json:"-"`
	PepperID    int                         `gorm:"not null" json:"-"`
	UserID      uuid.UUID                   `gorm:"type:uuid;not null;index" json:"user_id"`
	ClientID    uuid.UUID                   `gorm:"type:uuid;not null;index" json:"client_id"`
	Scopes      datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"scopes"`
	DPoPJkt     *string                     `gorm:"column:dpop_jkt" json:"dpop_jkt,omitempty"`
	AuthTime    time.Time                   `gorm:"not null" json:"auth_time"`
	ExpiresAt   time.Time                   `gorm:"not null;index" json:"expires_at"`
	Revoked     bool                        `gorm:"not null;default:false" json:"revoked"`
	RotatedToID *uuid.UUID                  `gorm:"type:uuid" json:"rotated_to_id,omitempty"`
	CreatedAt   time.Time                   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt              `gorm:"index" json:"deleted_at,omitempty"`
}

func (RefreshToken) TableName() string { return "oauth_refresh_tokens" }

// DPoPProof is one row per seen proof jti; the primary key makes replays fail.
type DPoPProof struct {
	JtiHash   []byte    `gorm:"type:bytea;primaryKey" json:"-"`
	Htm       string    `gorm:"not null" json:"htm"`
	Htu       string    `gorm:"not null" json:"htu"`
	Jkt       string    `gorm:"not null" json:"jkt"`
	SeenAt    time.Time `gorm:"not null;default:now();index" json:"seen_at"`
}

func (DPoPProof) TableName() string { return "oauth_dpop_proofs" }

// UserClientScope records consent a user gave a client for one scope.
type UserClientScope struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ClientID  uuid.UUID      `gorm:"type:uuid;not null" json:"client_id"`
	Scope     string         `gorm:"not null" json:"scope"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UserClientScope) TableName() string { return "oauth_user_client_scopes" }
