// Command jwt-mint prints a bearer token for local testing of the API.
// HS256 tokens match the shared-secret JWT mode; RS256 tokens are for an
// OIDC issuer whose JWKS carries the matching public key.
package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type mintOptions struct {
	Algorithm  string
	Secret     []byte
	PrivateKey *rsa.PrivateKey
	KID        string
	Issuer     string
	Audience   []string
	Subject    string
	Expires    time.Duration
	Now        time.Time
}

func main() {
	currentUser, err := user.Current()
	if err != nil {
		currentUser = &user.User{Username: "user-1"}
	}

	alg := flag.String("alg", "hs256", "Signing algorithm: hs256 or rs256")
	secret := flag.String("secret", "", "Shared secret for hs256 (or QCANVAS_SERVER_AUTH_JWT_SECRET)")
	secretFile := flag.String("secret-file", "", "File holding the hs256 shared secret")
	privateKeyPath := flag.String("key", ".auth/jwt_private.pem", "Path to RSA private key (PEM) for rs256")
	kid := flag.String("kid", "local-key", "JWT key ID for rs256")
	issuer := flag.String("issuer", "querycanvas-dev", "JWT issuer")
	audience := flag.String("audience", "querycanvas", "JWT audience (comma-separated)")
	subject := flag.String("subject", currentUser.Username, "JWT subject; sessions are owned by issuer and subject")
	expires := flag.Duration("expires", time.Hour, "Token lifetime (e.g. 1h)")
	flag.Parse()

	opts := mintOptions{
		Algorithm: strings.ToLower(*alg),
		KID:       *kid,
		Issuer:    *issuer,
		Audience:  splitList(*audience),
		Subject:   *subject,
		Expires:   *expires,
		Now:       time.Now(),
	}
	switch opts.Algorithm {
	case "hs256":
		opts.Secret, err = loadSecret(*secret, *secretFile)
	case "rs256":
		opts.PrivateKey, err = loadPrivateKey(*privateKeyPath)
	}
	if err != nil {
		exitErr(err)
	}

	signed, err := mint(opts)
	if err != nil {
		exitErr(err)
	}
	fmt.Println(signed)
}

func mint(opts mintOptions) (string, error) {
	if strings.TrimSpace(opts.Subject) == "" {
		return "", errors.New("subject is required")
	}
	if opts.Expires <= 0 {
		return "", errors.New("expires must be positive")
	}
	claims := jwt.MapClaims{
		"iss": opts.Issuer,
		"sub": opts.Subject,
		"iat": opts.Now.Unix(),
		"exp": opts.Now.Add(opts.Expires).Unix(),
		"nbf": opts.Now.Add(-1 * time.Minute).Unix(),
	}
	if len(opts.Audience) > 0 {
		claims["aud"] = opts.Audience
	}

	switch opts.Algorithm {
	case "hs256":
		if len(opts.Secret) == 0 {
			return "", errors.New("hs256 requires a secret")
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(opts.Secret)
	case "rs256":
		if opts.PrivateKey == nil {
			return "", errors.New("rs256 requires a private key")
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = opts.KID
		return token.SignedString(opts.PrivateKey)
	default:
		return "", fmt.Errorf("unsupported algorithm %q", opts.Algorithm)
	}
}

func loadSecret(value, path string) ([]byte, error) {
	if value == "" {
		value = os.Getenv("QCANVAS_SERVER_AUTH_JWT_SECRET")
	}
	if value == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		value = strings.TrimSpace(string(data))
	}
	if value == "" {
		return nil, errors.New("hs256 requires -secret, -secret-file or QCANVAS_SERVER_AUTH_JWT_SECRET")
	}
	return []byte(value), nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key pem")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type")
	}
	return rsaKey, nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func splitList(value string) []string {
	raw := strings.Split(value, ",")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
