package secret

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func testSource(env map[string]string, terminal bool, typed string, readErr error) *Source {
	s := NewSource("TEST_SECRET", "signing secret")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.readSecret = func() ([]byte, error) { return []byte(typed), readErr }
	s.prompt = io.Discard
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := testSource(map[string]string{"TEST_SECRET": "from-env"}, true, "typed", nil)
	got, err := s.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("expected env value, got %q, %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s := testSource(map[string]string{"TEST_SECRET": "  "}, true, "typed", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	calls := 0
	s := testSource(nil, true, "typed", nil)
	s.readSecret = func() ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := s.Get()
		if err != nil || got != "typed" {
			t.Fatalf("expected prompted value, got %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestSourceFailures(t *testing.T) {
	if _, err := testSource(nil, false, "", nil).Get(); err == nil || !strings.Contains(err.Error(), "TEST_SECRET") {
		t.Fatalf("expected no-terminal error naming env var, got %v", err)
	}
	if _, err := testSource(nil, true, "   ", nil).Get(); err == nil {
		t.Fatalf("expected empty prompt error")
	}
	if _, err := testSource(nil, true, "", errors.New("tty gone")).Get(); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Fatalf("expected read error, got %v", err)
	}
}
