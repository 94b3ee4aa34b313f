// Command tokengen mints bearer tokens for local testing, signed with the same
// secret the server is configured with.
//
//	go run ./cmd/tokengen -role driver -sub driver-42
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"rydar/internal/auth"
	"rydar/internal/config"
	"rydar/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	subject := flag.String("sub", "", "user id to put in the token (random if empty)")
	role := flag.String("role", "driver", "driver, rider or both")
	flag.Parse()

	if err := run(*configPath, *subject, *role); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
}

func run(configPath, subject, role string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	key, err := cfg.Auth.SecretBytes()
	if err != nil {
		return err
	}

	var roles []string
	switch strings.ToLower(role) {
	case "driver":
		roles = []string{auth.RoleDriver}
	case "rider":
		roles = []string{auth.RoleRider}
	case "both":
		roles = []string{auth.RoleDriver, auth.RoleRider}
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if subject == "" {
		subject = utils.GenerateID()
	}

	token, err := auth.NewTokenService(key, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Issue(subject, roles...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
