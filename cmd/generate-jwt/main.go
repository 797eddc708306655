package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pool-backend/internal/config"
	"pool-backend/internal/dto"
)

func main() {
	var address string
	var chainID uint64
	var hours int

	flag.StringVar(&address, "address", "0x742d35Cc6634C0532925a3b0F26750C66d78EB66", "Wallet address the token authenticates")
	flag.Uint64Var(&chainID, "chain", 1, "Chain ID recorded in the token")
	flag.IntVar(&hours, "hours", 24, "Token lifetime in hours")
	flag.Parse()

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if config.AppConfig.JWT.Secret == "" {
		log.Fatal("JWT secret not configured (set jwt.secret or JWT_SECRET)")
	}
	jwtSecret := []byte(config.AppConfig.JWT.Secret)

	now := time.Now()
	claims := dto.JWTClaims{
		Address: address,
		ChainID: chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "pool-backend",
			Subject:   address,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Println("Claims:")
	fmt.Printf("  Address: %s\n", address)
	fmt.Printf("  Chain ID: %d\n", chainID)
	fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Time)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:3001/api/session/status\n", tokenString)
	fmt.Println()
}
