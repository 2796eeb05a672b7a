package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowledger/cmd/internal/secret"
	"escrowledger/crypto"
	"escrowledger/services/escrowd/middleware"
)

var tokenNow = time.Now

func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		keystorePath string
		lightKDF     bool
	)
	fs.StringVar(&keystorePath, "keystore", "", "write the key to an encrypted keystore file instead of printing it")
	fs.BoolVar(&lightKDF, "lightkdf", false, "use a cheaper key derivation for the keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	identity := key.Identity()
	if strings.TrimSpace(keystorePath) == "" {
		fmt.Fprintf(stdout, "identity:    %s\n", identity.Hex())
		fmt.Fprintf(stdout, "bech32:      %s\n", crypto.EncodeIdentity(identity))
		fmt.Fprintf(stdout, "private key: %s\n", hex.EncodeToString(key.Bytes()))
		return 0
	}
	passphrase, err := secret.NewSource(envKeystorePassphrase, "keystore passphrase").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	var opts []crypto.KeystoreOption
	if lightKDF {
		opts = append(opts, crypto.LightKDF())
	}
	if err := crypto.SaveKeystore(keystorePath, key, passphrase, opts...); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "identity:    %s\n", identity.Hex())
	fmt.Fprintf(stdout, "bech32:      %s\n", crypto.EncodeIdentity(identity))
	fmt.Fprintf(stdout, "keystore:    %s\n", keystorePath)
	return 0
}

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		subject      string
		keystorePath string
		scopes       string
		issuer       string
		audience     string
		ttl          time.Duration
	)
	fs.StringVar(&subject, "subject", "", "caller identity placed in the sub claim")
	fs.StringVar(&keystorePath, "keystore", "", "derive the subject from a keystore file")
	fs.StringVar(&scopes, "scope", "", "comma separated scopes (e.g. escrow:admin)")
	fs.StringVar(&issuer, "issuer", "", "iss claim expected by escrowd")
	fs.StringVar(&audience, "audience", "", "aud claim expected by escrowd")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}

	var addr common.Address
	switch {
	case strings.TrimSpace(subject) != "" && strings.TrimSpace(keystorePath) != "":
		return printError(stderr, "use either --subject or --keystore")
	case strings.TrimSpace(keystorePath) != "":
		passphrase, err := secret.NewSource(envKeystorePassphrase, "keystore passphrase").Get()
		if err != nil {
			return printError(stderr, err.Error())
		}
		key, err := crypto.LoadKeystore(keystorePath, passphrase)
		if err != nil {
			return printError(stderr, fmt.Sprintf("unable to decrypt keystore %s: %v", keystorePath, err))
		}
		addr = key.Identity()
	default:
		parsed, err := crypto.ParseIdentity(subject)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--subject: %v", err))
		}
		addr = parsed
	}

	signingSecret, err := secret.NewSource(envAuthSecret, "escrowd signing secret").Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := middleware.IssueToken([]byte(strings.TrimSpace(signingSecret)), middleware.TokenRequest{
		Subject:  addr,
		Issuer:   issuer,
		Audience: audience,
		Scopes:   splitScopes(scopes),
		TTL:      ttl,
		Now:      tokenNow(),
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func splitScopes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
