package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"escrowledger/core/state"
	"escrowledger/crypto"
	"escrowledger/native/escrow"
	"escrowledger/services/escrowd/middleware"
	"escrowledger/storage"
)

type recordedCall struct {
	method string
	url    string
	token  string
	body   interface{}
}

func stubAPI(t *testing.T, response string, err error) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := apiCall
	apiCall = func(method, url, token string, body interface{}) (json.RawMessage, error) {
		*calls = append(*calls, recordedCall{method: method, url: url, token: token, body: body})
		if err != nil {
			return nil, err
		}
		return json.RawMessage(response), nil
	}
	t.Cleanup(func() { apiCall = original })
	return calls
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const (
	sellerHex     = "0x2222222222222222222222222222222222222222"
	arbitratorHex = "0x3333333333333333333333333333333333333333"
)

func TestUsageAndUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI()
	if code != 1 || !strings.Contains(stderr, "Usage:") {
		t.Fatalf("expected usage, got %d %q", code, stderr)
	}
	code, _, stderr = runCLI("bogus")
	if code != 1 || !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("expected unknown command error, got %d %q", code, stderr)
	}
	code, stdout, _ := runCLI("help")
	if code != 0 || !strings.Contains(stdout, "escrowctl <command>") {
		t.Fatalf("expected help on stdout, got %d %q", code, stdout)
	}
}

func TestCreateSendsNormalisedRequest(t *testing.T) {
	calls := stubAPI(t, `{"id":4}`, nil)
	seller := common.HexToAddress(sellerHex)
	code, stdout, stderr := runCLI("create",
		"--server", "http://escrowd.local/",
		"--token", "tok",
		"--seller", crypto.EncodeIdentity(seller),
		"--arbitrator", arbitratorHex,
		"--value", "1.5e18",
	)
	if code != 0 {
		t.Fatalf("create failed: %s", stderr)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one call, got %d", len(*calls))
	}
	call := (*calls)[0]
	if call.method != http.MethodPost || call.url != "http://escrowd.local/v1/transactions" || call.token != "tok" {
		t.Fatalf("unexpected call %+v", call)
	}
	body := call.body.(map[string]string)
	if body["value"] != "1500000000000000000" || body["seller"] != seller.Hex() {
		t.Fatalf("unexpected body %+v", body)
	}
	if !strings.Contains(stdout, `"id": 4`) {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestCommandValidation(t *testing.T) {
	calls := stubAPI(t, `{}`, nil)
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"create", "--arbitrator", arbitratorHex}, "--seller is required"},
		{[]string{"create", "--seller", sellerHex, "--arbitrator", arbitratorHex, "--value", "-3"}, "must not be negative"},
		{[]string{"create", "--seller", "esc1bogus", "--arbitrator", arbitratorHex}, "--seller"},
		{[]string{"deposit", "--id", "1"}, "--value is required"},
		{[]string{"approve"}, "--id is required"},
		{[]string{"dispute", "--id", "x"}, "non-negative integer"},
		{[]string{"resolve", "--id", "0"}, "--winner is required"},
		{[]string{"credit", "--address", sellerHex}, "--amount is required"},
		{[]string{"balance", "--address", "0x0000000000000000000000000000000000000000"}, "zero identity"},
	}
	for _, tc := range cases {
		code, _, stderr := runCLI(tc.args...)
		if code != 1 || !strings.Contains(stderr, tc.want) {
			t.Fatalf("%v: expected %q, got %d %q", tc.args, tc.want, code, stderr)
		}
	}
	if len(*calls) != 0 {
		t.Fatalf("expected no API calls, got %d", len(*calls))
	}
}

func TestTransitionAndQueryPaths(t *testing.T) {
	t.Setenv(envServer, "http://env.local")
	t.Setenv(envToken, "env-token")
	calls := stubAPI(t, `{"status":"Completed"}`, nil)

	steps := [][]string{
		{"approve", "--id", "3"},
		{"dispute", "--id", "3"},
		{"resolve", "--id", "3", "--winner", sellerHex},
		{"deposit", "--id", "3", "--value", "10"},
		{"get", "--id", "3", "--history"},
		{"count"},
		{"balance", "--address", sellerHex},
		{"credit", "--address", sellerHex, "--amount", "1e3"},
		{"freeze", "--address", sellerHex, "--frozen=false"},
	}
	for _, args := range steps {
		if code, _, stderr := runCLI(args...); code != 0 {
			t.Fatalf("%v failed: %s", args, stderr)
		}
	}
	want := []string{
		"POST http://env.local/v1/transactions/3/approve",
		"POST http://env.local/v1/transactions/3/dispute",
		"POST http://env.local/v1/transactions/3/resolve",
		"POST http://env.local/v1/transactions/3/deposit",
		"GET http://env.local/v1/transactions/3/history",
		"GET http://env.local/v1/transactions/count",
		"GET http://env.local/v1/accounts/" + common.HexToAddress(sellerHex).Hex(),
		"POST http://env.local/admin/accounts/" + common.HexToAddress(sellerHex).Hex() + "/credit",
		"POST http://env.local/admin/accounts/" + common.HexToAddress(sellerHex).Hex() + "/freeze",
	}
	for i, call := range *calls {
		if got := call.method + " " + call.url; got != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], got)
		}
		if call.method == http.MethodPost && call.token != "env-token" {
			t.Fatalf("call %d missing token", i)
		}
	}
	if body := (*calls)[7].body.(map[string]string); body["amount"] != "1000" {
		t.Fatalf("unexpected credit body %+v", body)
	}
	if body := (*calls)[8].body.(map[string]bool); body["frozen"] {
		t.Fatalf("expected frozen=false, got %+v", body)
	}
}

func TestAPIErrorsAreReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusConflict, "InvalidState", "escrow: invalid state: cannot approve in status Completed")
	}))
	defer srv.Close()

	code, _, stderr := runCLI("approve", "--server", srv.URL, "--token", "t", "--id", "0")
	if code != 1 {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(stderr, "InvalidState (409)") || !strings.Contains(stderr, "cannot approve") {
		t.Fatalf("unexpected error output %q", stderr)
	}
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	const signing = "cli-test-secret-0123456789"
	t.Setenv(envAuthSecret, signing)
	original := tokenNow
	tokenNow = func() time.Time { return time.Now().Add(-time.Minute) }
	defer func() { tokenNow = original }()

	code, stdout, stderr := runCLI("token", "--subject", sellerHex, "--scope", "escrow:admin, extra", "--issuer", "escrowd")
	if code != 0 {
		t.Fatalf("token failed: %s", stderr)
	}
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: signing, Issuer: "escrowd"}, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(stdout))
	principal, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.Subject != common.HexToAddress(sellerHex) || !principal.HasScope("escrow:admin") || !principal.HasScope("extra") {
		t.Fatalf("unexpected principal %+v", principal)
	}

	if code, _, stderr := runCLI("token", "--subject", sellerHex, "--keystore", "x"); code != 1 || !strings.Contains(stderr, "either") {
		t.Fatalf("expected exclusive flag error, got %q", stderr)
	}
}

func TestKeygenKeystoreAndToken(t *testing.T) {
	t.Setenv(envKeystorePassphrase, "correct horse")
	t.Setenv(envAuthSecret, "cli-test-secret-0123456789")
	path := filepath.Join(t.TempDir(), "keys", "operator.json")

	code, stdout, stderr := runCLI("keygen", "--keystore", path, "--lightkdf")
	if code != 0 {
		t.Fatalf("keygen failed: %s", stderr)
	}
	if strings.Contains(stdout, "private key") {
		t.Fatalf("keystore mode must not print the private key")
	}
	key, err := crypto.LoadKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if !strings.Contains(stdout, key.Identity().Hex()) {
		t.Fatalf("expected identity in output %q", stdout)
	}

	code, stdout, stderr = runCLI("token", "--keystore", path)
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("token from keystore failed: %s", stderr)
	}

	code, stdout, _ = runCLI("keygen")
	if code != 0 || !strings.Contains(stdout, "private key:") || !strings.Contains(stdout, crypto.IdentityPrefix+"1") {
		t.Fatalf("unexpected keygen output %q", stdout)
	}
}

func seedLedger(t *testing.T, path string) {
	t.Helper()
	db, err := storage.Open(storage.BackendBolt, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	bank := state.NewManager(db)
	engine := escrow.NewEngine(bank)
	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := common.HexToAddress(sellerHex)
	arbitrator := common.HexToAddress(arbitratorHex)
	if err := bank.Credit(buyer, uint256.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := engine.CreateEscrow(buyer, seller, arbitrator, uint256.NewInt(10)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := engine.InitiateDispute(1, seller); err != nil {
		t.Fatalf("dispute: %v", err)
	}
}

func TestExportFromStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	seedLedger(t, path)

	code, stdout, stderr := runCLI("export", "--backend", "bolt", "--path", path, "--format", "csv")
	if code != 0 {
		t.Fatalf("export failed: %s", stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(lines))
	}
	if !strings.Contains(stderr, "sha256") {
		t.Fatalf("expected checksum on stderr, got %q", stderr)
	}

	out := filepath.Join(t.TempDir(), "disputed.jsonl")
	code, stdout, stderr = runCLI("export", "--backend", "bolt", "--path", path, "--format", "jsonl", "--status", "Disputed", "--out", out)
	if code != 0 {
		t.Fatalf("jsonl export failed: %s", stderr)
	}
	if !strings.Contains(stdout, "exported 1 escrows") {
		t.Fatalf("unexpected output %q", stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 || !strings.Contains(string(data), "Disputed") {
		t.Fatalf("unexpected jsonl %q", data)
	}

	if code, _, stderr := runCLI("export", "--path", path, "--format", "xml"); code != 1 || !strings.Contains(stderr, "unsupported format") {
		t.Fatalf("expected format error, got %q", stderr)
	}
}
