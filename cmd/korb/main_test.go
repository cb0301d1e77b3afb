package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/korb/examples"
	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/config"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

// writeConfig writes a minimal config whose data lives under a temp dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "data_dir: " + filepath.Join(dir, "data") + "\nlogging:\n  level: error\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "korb dev") {
		t.Errorf("version output = %q, want korb dev prefix", out)
	}
	if !strings.Contains(out, "go_version:") {
		t.Errorf("version output missing go_version: %q", out)
	}
}

func TestRunVersionJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("decode %q: %v", stdout.String(), err)
	}
	if info["version"] != "dev" {
		t.Errorf("version = %q, want dev", info["version"])
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"ask without question", []string{"ask"}, "requires at least 1 arg"},
		{"ingest without files", []string{"ingest"}, "usage: korb ingest"},
		{"missing config", []string{"--config", "/nonexistent/korb.yaml", "workflow"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(t.Context(), &stdout, &stderr, tt.args)
			if err == nil {
				t.Fatalf("run(%v) succeeded, want error", tt.args)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"serve", "ask", "chat", "ingest", "workflow", "--config"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "korb")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil || !info.IsDir() {
		t.Fatalf("data directory not created: %v", err)
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if !strings.Contains(buf.String(), "config.yaml") {
		t.Errorf("output should list config.yaml: %q", buf.String())
	}
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "listen:\n  port: 9000\n" {
		t.Errorf("existing config overwritten: %q", got)
	}
	if !strings.Contains(buf.String(), "exists, kept") {
		t.Errorf("output should note the kept file: %q", buf.String())
	}
}

func TestExampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Listen.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Listen.Port)
	}
	if cfg.Providers.Default != "ollama" {
		t.Errorf("default provider = %q, want ollama", cfg.Providers.Default)
	}
}

func TestWorkflowList(t *testing.T) {
	cfgPath := writeConfig(t, "sysctl:\n  enabled: true\n")

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"--config", cfgPath, "-o", "json", "workflow"}); err != nil {
		t.Fatalf("run workflow: %v", err)
	}
	var got struct {
		Workflows []string `json:"workflows"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout.String(), err)
	}
	found := false
	for _, name := range got.Workflows {
		if name == "work_mode" {
			found = true
		}
	}
	if !found {
		t.Errorf("workflows = %v, want work_mode listed", got.Workflows)
	}
}

func TestWorkflowNeedsSysctl(t *testing.T) {
	cfgPath := writeConfig(t, "sysctl:\n  enabled: false\n")

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), &stdout, &stderr, []string{"--config", cfgPath, "workflow"})
	if err == nil || !strings.Contains(err.Error(), "sysctl.enabled") {
		t.Fatalf("err = %v, want sysctl hint", err)
	}
}

func TestIngestListAndClear(t *testing.T) {
	cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"--config", cfgPath, "ingest", "--list"}); err != nil {
		t.Fatalf("ingest --list: %v", err)
	}
	if !strings.Contains(stdout.String(), "No documents ingested") {
		t.Errorf("list output = %q", stdout.String())
	}

	stdout.Reset()
	if err := run(t.Context(), &stdout, &stderr, []string{"--config", cfgPath, "ingest", "--clear"}); err != nil {
		t.Fatalf("ingest --clear: %v", err)
	}
	if !strings.Contains(stdout.String(), "Knowledge base cleared") {
		t.Errorf("clear output = %q", stdout.String())
	}
}

type fakeDocuments struct {
	got map[string]string
	err error
}

func (f *fakeDocuments) Ingest(_ context.Context, filename string, content []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.got == nil {
		f.got = make(map[string]string)
	}
	f.got[filename] = string(content)
	return "stored " + filename, nil
}

func TestRunIngest(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.md")
	blob := filepath.Join(dir, "photo.bin")
	if err := os.WriteFile(notes, []byte("# Notes\nremember the milk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blob, []byte{0, 1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	g := &globals{stdout: &stdout, stderr: &stderr, output: "text"}
	store := &fakeDocuments{}

	if err := runIngest(t.Context(), g, store, []string{notes, blob}); err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if store.got["notes.md"] != "# Notes\nremember the milk" {
		t.Errorf("ingested = %v", store.got)
	}
	if _, ok := store.got["photo.bin"]; ok {
		t.Error("unsupported file was ingested")
	}
	if !strings.Contains(stdout.String(), "stored notes.md") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "photo.bin: unsupported") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunIngestFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := &globals{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	err := runIngest(t.Context(), g, &fakeDocuments{err: errors.New("disk full")}, []string{path})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want disk full", err)
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := printEvent(&buf, agent.Event{Text: "Hello"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Hello" {
		t.Errorf("text event = %q", buf.String())
	}

	buf.Reset()
	ev := agent.Event{Command: &agent.ToolCall{Name: "dim_lights", Args: map[string]any{"level": 20.0}}}
	if err := printEvent(&buf, ev); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `dim_lights {"level":20}`) {
		t.Errorf("command event = %q", buf.String())
	}
}

func TestChatSlashCommands(t *testing.T) {
	cfgPath := writeConfig(t, "")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	a, err := newApp(cfg, newLogger(&logs, cfg.Logging), appOptions{Ephemeral: true})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	sess, err := a.sessions.CreateSession("test")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.sessions.Append(sess.ID, "user", "earlier question"); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	in := strings.NewReader("\n/history\n/quit\nnever sent\n")
	if err := runChat(t.Context(), a, in, &out, sess.ID); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if !strings.Contains(out.String(), "earlier question") {
		t.Errorf("history output = %q", out.String())
	}
	if strings.Contains(out.String(), "you>") {
		t.Errorf("prompt written for non-terminal input: %q", out.String())
	}
}
