package admincli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"sessiontrack/internal/config"
	"sessiontrack/internal/security"
)

func testConfig() (*config.AppConfig, error) {
	return &config.AppConfig{
		Environment: "test",
		Logging:     config.LoggingConfig{Level: "error"},
		Store:       config.StoreConfig{Driver: "memory", Timeout: time.Second},
		Security:    config.SecurityConfig{JWTSecret: "cli-secret", AdminTokenTTL: time.Hour},
		Sweeper:     config.SweeperConfig{StaleAfter: 10 * time.Minute, Timeout: time.Second},
	}, nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(testConfig)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--subject", "alice", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := security.ParseAdminToken(strings.TrimSpace(out), "cli-secret")
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestSweepCommandOnEmptyStore(t *testing.T) {
	out, err := execute(t, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "users offline: 0") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBroadcastCommandValidates(t *testing.T) {
	if _, err := execute(t, "broadcast", "--target", "specific", "--action", "global_logout"); err == nil {
		t.Fatal("expected missing phone to fail")
	}
	out, err := execute(t, "broadcast", "--message", "hello")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected broadcast id on stdout")
	}
}

func TestUnknownStoreOverride(t *testing.T) {
	if _, err := execute(t, "--store", "cassandra", "sweep"); err == nil {
		t.Fatal("expected unknown driver to fail")
	}
}
