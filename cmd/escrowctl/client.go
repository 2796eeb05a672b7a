package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type apiError struct {
	Status  int
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// apiCall performs one request against escrowd. Tests replace it.
var apiCall = callEscrowd

var httpClient = &http.Client{Timeout: 15 * time.Second}

func callEscrowd(method, url, token string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return json.RawMessage(data), nil
}

// clientFlags are shared by every command that talks to escrowd.
type clientFlags struct {
	server string
	token  string
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of escrowctl %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func (c *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.server, "server", "", "escrowd base URL (default $"+envServer+" or "+defaultServer+")")
	fs.StringVar(&c.token, "token", "", "bearer token (default $"+envToken+")")
}

func (c *clientFlags) url(path string) string {
	base := strings.TrimSpace(c.server)
	if base == "" {
		base = strings.TrimSpace(os.Getenv(envServer))
	}
	if base == "" {
		base = defaultServer
	}
	return strings.TrimRight(base, "/") + path
}

func (c *clientFlags) bearer() string {
	if strings.TrimSpace(c.token) != "" {
		return strings.TrimSpace(c.token)
	}
	return strings.TrimSpace(os.Getenv(envToken))
}

func writeResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(result)))
		return
	}
	fmt.Fprintln(w, strings.TrimSpace(pretty.String()))
}
