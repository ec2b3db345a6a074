package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/switchboard/pkg/cli"
	"mercator-hq/switchboard/pkg/conversation"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		verbose = false
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func sqliteConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "conversations.db")
	cfgPath = writeConfig(t, `
upstream:
  base_url: http://127.0.0.1:9
  bot_id: bot-1
conversation:
  store: sqlite
  sqlite_path: `+dbPath+`
`)
	return cfgPath, dbPath
}

func TestValidate_Valid(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base_url: https://api.example.com
  bot_id: bot-1
`)
	out, err := execute(t, "validate", "--config", path, "--verbose")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "is valid") || !strings.Contains(out, "https://api.example.com") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestValidate_Invalid(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base_url: ftp://example.com
`)
	out, err := execute(t, "validate", "--config", path)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("exit code = %d, want %d", code, cli.ExitConfig)
	}
	for _, want := range []string{"upstream.base_url", "upstream.bot_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || cli.ExitCode(err) != cli.ExitConfig {
		t.Fatalf("expected a config error, got %v", err)
	}
}

func seedStore(t *testing.T, dbPath string, recs ...conversation.Record) {
	t.Helper()
	store, err := conversation.NewSQLiteStore(dbPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	for _, rec := range recs {
		if err := store.Save(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConversations_ListAndForget(t *testing.T) {
	cfgPath, dbPath := sqliteConfig(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedStore(t, dbPath,
		conversation.Record{ClientID: "user-a", ConversationID: "conv-a", CreatedAt: now, LastUsed: now},
		conversation.Record{ClientID: "user-b", ConversationID: "conv-b", CreatedAt: now, LastUsed: now},
	)

	out, err := execute(t, "conversations", "list", "--config", cfgPath, "--format", "json")
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	var listed []conversationRecord
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(listed) != 2 || listed[0].ClientID != "user-a" || listed[1].ConversationID != "conv-b" {
		t.Fatalf("listed = %+v", listed)
	}

	out, err = execute(t, "conversations", "forget", "user-a", "user-zzz", "--config", cfgPath)
	if err != nil {
		t.Fatalf("forget: %v\n%s", err, out)
	}
	if !strings.Contains(out, "user-a: forgot conv-a") || !strings.Contains(out, "user-zzz: no conversation stored") {
		t.Errorf("unexpected forget output:\n%s", out)
	}

	out, err = execute(t, "conversations", "list", "--config", cfgPath, "--format", "csv")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := "CLIENT,CONVERSATION,CREATED,LAST USED\nuser-b,conv-b,2026-03-01T12:00:00Z,2026-03-01T12:00:00Z\n"
	if out != want {
		t.Errorf("csv = %q, want %q", out, want)
	}
}

func TestConversations_ListEmpty(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)
	out, err := execute(t, "conversations", "list", "--config", cfgPath, "--format", "text")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No conversations stored.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestConversations_BadFormat(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)
	if _, err := execute(t, "conversations", "list", "--config", cfgPath, "--format", "xml"); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestRun_DryRun(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: 127.0.0.1:0
upstream:
  base_url: http://127.0.0.1:9
  bot_id: bot-1
telemetry:
  logging:
    level: error
`)
	t.Cleanup(func() { runFlags.dryRun = false })

	out, err := execute(t, "run", "--config", path, "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run: %v\n%s", err, out)
	}
	for _, want := range []string{"Configuration loaded", "Dry run complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
