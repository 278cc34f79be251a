package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"telegram_ledger/internal/http/middleware"
	"telegram_ledger/internal/logger"

	"github.com/joho/godotenv"
)

// Prints an admin JWT for the /api/v1/admin endpoints.
func main() {
	_ = godotenv.Load()

	adminID := flag.Int64("admin", 0, "admin telegram id")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}
	if *adminID == 0 {
		logger.Fatal("-admin is required")
	}

	token, err := middleware.GenerateAdminToken([]byte(secret), *adminID, *ttl)
	if err != nil {
		logger.Fatal("sign token", "error", err)
	}
	fmt.Println(token)
}
