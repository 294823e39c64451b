// Command token prints a bearer token for local testing of the leave API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rittima/CRM-Team-sub000/internal/domain/auth"
	"github.com/rittima/CRM-Team-sub000/internal/platform/config"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	role := flag.String("role", auth.RoleEmployee, "role name (Employee or HR)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-role HR|Employee] [-ttl 24h]")
		os.Exit(2)
	}
	roleName := auth.NormalizeRole(*role)
	if roleName == "" {
		log.Fatalf("unknown role %q", *role)
	}

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, auth.Claims{UserID: *userID, RoleName: roleName}, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
