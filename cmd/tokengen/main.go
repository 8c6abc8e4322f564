// Command tokengen mints bearer tokens for local testing and provisioning.
//
//	go run ./cmd/tokengen -sub teacher-1 -role teacher -name "Ada"
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/config"
)

func main() {
	sub := flag.String("sub", "", "user id (token subject)")
	roleName := flag.String("role", "student", "student, teacher or admin")
	name := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to ACCESS_TTL)")
	flag.Parse()

	if *sub == "" {
		log.Fatal("-sub is required")
	}
	role, err := attendance.ParseRole(*roleName)
	if err != nil {
		log.Fatalf("role: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *ttl <= 0 {
		*ttl = cfg.AccessTTL
	}

	tok, err := auth.Issue(*sub, role, *name, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl, time.Now())
	if err != nil {
		log.Fatalf("issue: %v", err)
	}
	fmt.Println(tok.AccessToken)
	log.Printf("expires at %s", tok.ExpiresAt.Format(time.RFC3339))
}
