package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"

	"pool-backend/internal/config"
)

// Prints the current TOTP code for the configured admin secret. Handy when
// testing /api/admin/auth/login without a phone.
func main() {
	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		if err := config.LoadConfig(""); err == nil && config.AppConfig != nil {
			secret = config.AppConfig.Admin.TOTPSecret
		}
	}
	if secret == "" {
		fmt.Println("No TOTP secret configured (set ADMIN_TOTP_SECRET or admin.totp_secret)")
		fmt.Println("Generate one with: GET /api/admin/auth/totp/secret from localhost")
		os.Exit(1)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Printf("Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Current TOTP Code: %s\n", code)
	fmt.Printf("Valid for: ~30 seconds\n")
}
