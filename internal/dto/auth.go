package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// AuthRequest is the wallet authentication request. The message must be the
// one handed out by the nonce endpoint and the signature an EIP-191
// personal_sign over it.
type AuthRequest struct {
	Address   string `json:"address" binding:"required"`  // wallet address
	Message   string `json:"message" binding:"required"`  // message that was signed
	Signature string `json:"signature" binding:"required"` // 65-byte hex signature
	ChainID   uint64 `json:"chain_id" binding:"required"`
}

// AuthResponse carries the issued JWT.
type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// JWTClaims is the wallet token payload.
type JWTClaims struct {
	Address string `json:"address"` // checksummed wallet address
	ChainID uint64 `json:"chain_id"`
	jwt.RegisteredClaims
}

// ==================== Admin Auth DTOs ====================

// AdminLoginRequest is the operator login request.
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse carries the issued admin JWT.
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminJWTClaims is the admin token payload.
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
