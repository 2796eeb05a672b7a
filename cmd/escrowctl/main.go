package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	envServer             = "ESCROWCTL_SERVER"
	envToken              = "ESCROWCTL_TOKEN"
	envKeystorePassphrase = "ESCROWCTL_KEYSTORE_PASSPHRASE"
	envAuthSecret         = "ESCROWD_AUTH_SECRET"
	defaultServer         = "http://127.0.0.1:8645"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygenCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "create":
		return runCreateCommand(args[1:], stdout, stderr)
	case "deposit":
		return runDepositCommand(args[1:], stdout, stderr)
	case "approve":
		return runTransitionCommand("approve", args[1:], stdout, stderr)
	case "dispute":
		return runTransitionCommand("dispute", args[1:], stdout, stderr)
	case "resolve":
		return runResolveCommand(args[1:], stdout, stderr)
	case "get":
		return runGetCommand(args[1:], stdout, stderr)
	case "count":
		return runCountCommand(args[1:], stdout, stderr)
	case "balance":
		return runBalanceCommand(args[1:], stdout, stderr)
	case "credit":
		return runCreditCommand(args[1:], stdout, stderr)
	case "freeze":
		return runFreezeCommand(args[1:], stdout, stderr)
	case "export":
		return runExportCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrowctl <command> [flags]

Commands:
  keygen   Generate an identity, optionally into an encrypted keystore
  token    Mint a bearer token for escrowd
  create   Open an escrow funded by the token subject
  deposit  Add value to an open escrow
  approve  Approve release as buyer or seller
  dispute  Move an open escrow into dispute
  resolve  Settle a disputed escrow as arbitrator
  get      Show an escrow by id
  count    Show how many escrows exist
  balance  Show an account balance
  credit   Mint balance into an account (admin)
  freeze   Toggle the inbound hold on an account (admin)
  export   Export escrows from a storage backend (csv, jsonl, parquet)

Client commands read the server from --server or ESCROWCTL_SERVER and the
bearer token from --token or ESCROWCTL_TOKEN.`)
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
