// Command tokengen issues signed bearer tokens for local development.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"mall-system/config"
	"mall-system/internal/utils"
)

func main() {
	userID := flag.Int64("user", 1, "user id")
	username := flag.String("name", "dev", "username")
	role := flag.String("role", utils.RoleBuyer, "role: buyer, shop or admin")
	shopID := flag.Int64("shop", 0, "shop id bound to a shop token")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to the configured TTL")
	flag.Parse()

	cfg := config.LoadConfig()
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	var shop *int64
	if *shopID > 0 {
		shop = shopID
	}

	issuer := utils.NewTokenIssuer(cfg.Auth.JWTSecret, lifetime)
	token, exp, err := issuer.GenerateToken(*userID, *username, *role, shop)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(token)
	log.Printf("expires %s", exp.Format(time.RFC3339))
}
