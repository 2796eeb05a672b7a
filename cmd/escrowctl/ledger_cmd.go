package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"escrowledger/crypto"
	"escrowledger/native/escrow"
)

func runCreateCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		client     clientFlags
		seller     string
		arbitrator string
		value      string
	)
	client.register(fs)
	fs.StringVar(&seller, "seller", "", "seller identity (0x hex or esc1 bech32)")
	fs.StringVar(&arbitrator, "arbitrator", "", "arbitrator identity")
	fs.StringVar(&value, "value", "0", "initial deposit (supports 1e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	sellerAddr, err := parseIdentityFlag("seller", seller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	arbitratorAddr, err := parseIdentityFlag("arbitrator", arbitrator)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := normalizeAmount("value", value)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodPost, client.url("/v1/transactions"), client.bearer(), map[string]string{
		"seller":     sellerAddr,
		"arbitrator": arbitratorAddr,
		"value":      amount,
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runDepositCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposit", stderr)
	var (
		client clientFlags
		id     string
		value  string
	)
	client.register(fs)
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&value, "value", "", "amount to add (supports 1e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	txID, err := parseIDFlag(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(value) == "" {
		return printError(stderr, "--value is required")
	}
	amount, err := normalizeAmount("value", value)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodPost, client.url(fmt.Sprintf("/v1/transactions/%d/deposit", txID)), client.bearer(), map[string]string{"value": amount})
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runTransitionCommand(action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(action, stderr)
	var (
		client clientFlags
		id     string
	)
	client.register(fs)
	fs.StringVar(&id, "id", "", "escrow id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	txID, err := parseIDFlag(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodPost, client.url(fmt.Sprintf("/v1/transactions/%d/%s", txID, action)), client.bearer(), nil)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runResolveCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("resolve", stderr)
	var (
		client clientFlags
		id     string
		winner string
	)
	client.register(fs)
	fs.StringVar(&id, "id", "", "escrow id")
	fs.StringVar(&winner, "winner", "", "party receiving the escrowed value (buyer or seller identity)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	txID, err := parseIDFlag(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	winnerAddr, err := parseIdentityFlag("winner", winner)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodPost, client.url(fmt.Sprintf("/v1/transactions/%d/resolve", txID)), client.bearer(), map[string]string{"winner": winnerAddr})
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runGetCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var (
		client  clientFlags
		id      string
		history bool
	)
	client.register(fs)
	fs.StringVar(&id, "id", "", "escrow id")
	fs.BoolVar(&history, "history", false, "show the recorded event history instead of the record")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	txID, err := parseIDFlag(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	path := fmt.Sprintf("/v1/transactions/%d", txID)
	if history {
		path += "/history"
	}
	result, err := apiCall(http.MethodGet, client.url(path), "", nil)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runCountCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("count", stderr)
	var client clientFlags
	client.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := apiCall(http.MethodGet, client.url("/v1/transactions/count"), "", nil)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runBalanceCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var (
		client  clientFlags
		address string
	)
	client.register(fs)
	fs.StringVar(&address, "address", "", "account identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseIdentityFlag("address", address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodGet, client.url("/v1/accounts/"+addr), "", nil)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runCreditCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("credit", stderr)
	var (
		client  clientFlags
		address string
		amount  string
	)
	client.register(fs)
	fs.StringVar(&address, "address", "", "account identity")
	fs.StringVar(&amount, "amount", "", "amount to mint (supports 1e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseIdentityFlag("address", address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(amount) == "" {
		return printError(stderr, "--amount is required")
	}
	normalized, err := normalizeAmount("amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodPost, client.url("/admin/accounts/"+addr+"/credit"), client.bearer(), map[string]string{"amount": normalized})
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func runFreezeCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("freeze", stderr)
	var (
		client  clientFlags
		address string
		frozen  bool
	)
	client.register(fs)
	fs.StringVar(&address, "address", "", "account identity")
	fs.BoolVar(&frozen, "frozen", true, "hold inbound transfers (use --frozen=false to lift)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := parseIdentityFlag("address", address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := apiCall(http.MethodPost, client.url("/admin/accounts/"+addr+"/freeze"), client.bearer(), map[string]bool{"frozen": frozen})
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, result)
	return 0
}

func parseIDFlag(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--id must be a non-negative integer")
	}
	return id, nil
}

func parseIdentityFlag(name, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	addr, err := crypto.ParseIdentity(value)
	if err != nil {
		return "", fmt.Errorf("--%s: %v", name, err)
	}
	return addr.Hex(), nil
}

func normalizeAmount(name, value string) (string, error) {
	amount, err := escrow.ParseAmount(value)
	if err != nil {
		return "", fmt.Errorf("--%s: %v", name, err)
	}
	return escrow.FormatAmount(amount), nil
}
