package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log"

	"pool-backend/internal/config"
	"pool-backend/internal/dto"
	"pool-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthHandler issues wallet JWTs after verifying an EIP-191 signature.
type AuthHandler struct{}

type AuthRequest = dto.AuthRequest
type AuthResponse = dto.AuthResponse
type JWTClaims = dto.JWTClaims

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// jwtSigningSecret resolves the signing secret from config. Fails closed:
// with no secret configured, no token can be issued or validated.
func jwtSigningSecret() ([]byte, error) {
	if config.AppConfig == nil || config.AppConfig.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}
	return []byte(config.AppConfig.JWT.Secret), nil
}

func jwtExpiry() time.Duration {
	if config.AppConfig != nil && config.AppConfig.JWT.ExpiryHours > 0 {
		return time.Duration(config.AppConfig.JWT.ExpiryHours) * time.Hour
	}
	return 24 * time.Hour
}

// GenerateNonceHandler hands out a fresh nonce and the exact message the
// wallet must sign.
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to generate nonce",
		})
		return
	}

	nonceStr := hex.EncodeToString(nonce)
	timestamp := time.Now().Unix()

	message := fmt.Sprintf("Privacy Pool Authentication\nNonce: %s\nTimestamp: %d", nonceStr, timestamp)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"nonce":     nonceStr,
		"message":   message,
		"timestamp": timestamp,
	})
}

// AuthenticateHandler verifies the wallet signature and issues a JWT.
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Message: "Invalid wallet address",
		})
		return
	}
	address := common.HexToAddress(req.Address)

	if !utils.GlobalChainRegistry.IsSupported(req.ChainID) {
		c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Message: fmt.Sprintf("Unsupported chain ID: %d", req.ChainID),
		})
		return
	}

	if err := verifyPersonalSignature(address, req.Message, req.Signature); err != nil {
		log.Printf("❌ Signature verification failed: address=%s, chain=%d, err=%v", address.Hex(), req.ChainID, err)
		c.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Message: "Signature verification failed",
		})
		return
	}

	token, err := h.generateJWTToken(address, req.ChainID)
	if err != nil {
		log.Printf("❌ JWT generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, AuthResponse{
			Success: false,
			Message: "Token generation failed",
		})
		return
	}

	log.Printf("✅ Wallet authenticated: address=%s, chain=%d", address.Hex(), req.ChainID)

	c.JSON(http.StatusOK, AuthResponse{
		Success: true,
		Token:   token,
		Message: "Authentication successful",
	})
}

// verifyPersonalSignature recovers the signer of an EIP-191 personal_sign
// signature and compares it to the claimed address.
func verifyPersonalSignature(address common.Address, message, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("signature is not valid hex: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Wallets return v as 27/28; crypto.SigToPub wants 0/1.
	if sig[64] >= 27 {
		sig = append([]byte{}, sig...)
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return fmt.Errorf("invalid recovery id %d", sig[64])
	}

	digest := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))

	pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("public key recovery failed: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != address {
		return fmt.Errorf("recovered signer %s does not match %s", recovered.Hex(), address.Hex())
	}
	return nil
}

// generateJWTToken issues an HS256 token for the authenticated wallet.
func (h *AuthHandler) generateJWTToken(address common.Address, chainID uint64) (string, error) {
	secret, err := jwtSigningSecret()
	if err != nil {
		return "", err
	}

	claims := JWTClaims{
		Address: address.Hex(),
		ChainID: chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(jwtExpiry())),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "pool-backend",
			Subject:   address.Hex(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token signing failed: %w", err)
	}

	return tokenString, nil
}

// ValidateJWTToken parses and verifies a wallet token. Used by the auth
// middleware.
func ValidateJWTToken(tokenString string) (*JWTClaims, error) {
	secret, err := jwtSigningSecret()
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("token parsing failed: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
