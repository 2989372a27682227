// Package main mints bearer tokens for the admin API and the website.
//
//	go run ./cmd/token -role admin -sub mod-alice
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charpoll/backend/config"
	"github.com/charpoll/backend/internal/auth"
)

func main() {
	role := flag.String("role", auth.RoleAdmin, "token role: admin or website")
	sub := flag.String("sub", "", "token subject")
	flag.Parse()

	if *sub == "" {
		fmt.Fprintln(os.Stderr, "-sub is required")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(*sub, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
