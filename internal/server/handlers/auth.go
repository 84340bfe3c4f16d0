package handlers

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/session"
)

// tokenTTL is the lifetime of minted session tokens.
const tokenTTL = 24 * time.Hour

// AuthHandler handles authentication requests.
type AuthHandler struct {
	sessions  *session.Store
	jwtSecret []byte
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(sessions *session.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{sessions: sessions, jwtSecret: []byte(jwtSecret)}
}

// RegisterRequest is a request to register a new identity.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// LoginRequest is a request to sign in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the response to a successful register or login.
type AuthResponse struct {
	Token    string            `json:"token"`
	Identity *session.Identity `json:"identity"`
}

// Register registers a new identity and signs it in.
func (h *AuthHandler) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	patch := session.Patch{}
	if req.DisplayName != "" {
		patch.DisplayName = &req.DisplayName
	}
	identity, err := h.sessions.Register(req.Email, req.Password, patch)
	if err != nil {
		return nil, err
	}
	token, err := h.generateToken(identity)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Identity: identity}, nil
}

// Login signs an identity in.
func (h *AuthHandler) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, errcode.InvalidArgument("email and password are required")
	}
	identity, err := h.sessions.SignIn(req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	token, err := h.generateToken(identity)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Identity: identity}, nil
}

// LogoutRequest is an empty request to sign out.
type LogoutRequest struct{}

// LogoutResponse is an empty response.
type LogoutResponse struct{}

// Logout clears the current identity. Idempotent.
func (h *AuthHandler) Logout(ctx context.Context, req LogoutRequest) (*LogoutResponse, error) {
	if err := h.sessions.SignOut(); err != nil {
		return nil, err
	}
	return &LogoutResponse{}, nil
}

// MeRequest is an empty request for the current identity.
type MeRequest struct{}

// MeResponse carries the current identity; Identity is null when signed out.
type MeResponse struct {
	Identity *session.Identity `json:"identity"`
}

// Me returns the current identity snapshot.
func (h *AuthHandler) Me(ctx context.Context, req MeRequest) (*MeResponse, error) {
	identity, err := h.sessions.Current()
	if err != nil {
		return nil, err
	}
	return &MeResponse{Identity: identity}, nil
}

// UpdateProfileRequest is a partial profile update for an identity.
type UpdateProfileRequest struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"displayName,omitempty"`
}

// UpdateProfileResponse carries the updated current identity.
type UpdateProfileResponse struct {
	Identity *session.Identity `json:"identity"`
}

// UpdateProfile merges the patch into the registry entry and the current
// identity projection.
func (h *AuthHandler) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*UpdateProfileResponse, error) {
	id, err := ksid.Parse(req.ID)
	if err != nil {
		return nil, errcode.InvalidArgument("invalid identity id")
	}
	if err := h.sessions.UpdateProfile(id, session.Patch{DisplayName: req.DisplayName}); err != nil {
		return nil, err
	}
	identity, err := h.sessions.Current()
	if err != nil {
		return nil, err
	}
	return &UpdateProfileResponse{Identity: identity}, nil
}

// PasswordResetRequest asks for a password reset mail.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetResponse is an empty response.
type PasswordResetResponse struct{}

// PasswordReset verifies the email is registered. No mail is sent by the
// emulation; the response only confirms the address exists.
func (h *AuthHandler) PasswordReset(ctx context.Context, req PasswordResetRequest) (*PasswordResetResponse, error) {
	if err := h.sessions.RequestPasswordReset(req.Email); err != nil {
		return nil, err
	}
	return &PasswordResetResponse{}, nil
}

func (h *AuthHandler) generateToken(identity *session.Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":   identity.ID.String(),
		"email": identity.Email,
		"exp":   time.Now().Add(tokenTTL).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", errcode.StorageFailure("failed to sign token", err)
	}
	return signed, nil
}
