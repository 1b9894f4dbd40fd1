package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentgate/agentgate/internal/audit"
	"github.com/agentgate/agentgate/internal/store/segment"
	"github.com/agentgate/agentgate/pkg/types"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootHasCommands(t *testing.T) {
	root := NewRoot("test")
	for _, name := range []string{"serve", "authorize", "status", "audit", "snapshot", "emergency", "usage"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestAuthorizeCmd(t *testing.T) {
	var got types.OperationContext
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"allow":true}`))
	}))
	defer srv.Close()

	out, err := execRoot(t, "--server", srv.URL, "authorize", "--op", "write", "--path", "src/a.go", "--user", "agent")
	if err != nil {
		t.Fatal(err)
	}
	if got.Operation != types.OpWrite || got.TargetPath != "src/a.go" || got.UserID != "agent" {
		t.Errorf("request = %+v", got)
	}
	if !strings.Contains(out, `"allow": true`) {
		t.Errorf("output = %q", out)
	}
}

func TestAuthorizeCmdDenialExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"allow":false,"reasons":["nope"]}`))
	}))
	defer srv.Close()

	_, err := execRoot(t, "--server", srv.URL, "authorize", "--op", "delete")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code() != 1 {
		t.Errorf("code = %d", exitErr.Code())
	}
}

func TestEmergencyTriggerRequiresReason(t *testing.T) {
	_, err := execRoot(t, "emergency", "trigger")
	if err == nil {
		t.Fatal("expected missing flag error")
	}
}

func TestAuditVerifyCmd(t *testing.T) {
	dir := t.TempDir()
	key := []byte("0123456789abcdef0123456789abcdef")
	keyFile := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyFile, key, 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := segment.New(dir, 10)
	if err != nil {
		t.Fatal(err)
	}
	chain, err := audit.NewIntegrityChain(key)
	if err != nil {
		t.Fatal(err)
	}
	logger := audit.NewLogger(st, audit.Options{Chain: chain})
	for i := 0; i < 5; i++ {
		if err := logger.Event(types.EventConfigChange, types.SeverityInfo, "op", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := execRoot(t, "audit", "verify", "--dir", dir, "--key-file", keyFile)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "5 events verified") {
		t.Errorf("output = %q", out)
	}

	// Flip a byte in a stored event and verification must fail.
	segs, err := st.Segments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) == 0 {
		t.Fatal("no segments written")
	}
	data, err := os.ReadFile(segs[0])
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte(`"user_id":"op"`), []byte(`"user_id":"ox"`), 1)
	if bytes.Equal(tampered, data) {
		t.Fatal("tamper target not found")
	}
	if err := os.WriteFile(segs[0], tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = execRoot(t, "audit", "verify", "--dir", dir, "--key-file", keyFile)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if !strings.Contains(exitErr.Message(), "integrity check failed") {
		t.Errorf("message = %q", exitErr.Message())
	}
}

func TestLoadLocalConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := loadLocalConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}

	if err := os.WriteFile("agentgate.yml", []byte("server:\n  addr: 127.0.0.1:9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadLocalConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}
