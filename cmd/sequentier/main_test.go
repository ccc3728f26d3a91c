package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/daemon"
	"sequentier/internal/history"
	"sequentier/internal/logging"
	"sequentier/internal/queue"
	"sequentier/internal/retention"
	"sequentier/internal/testsupport"
	"sequentier/internal/worker"
	"sequentier/internal/workflow"
)

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func writeCLIConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	t.Setenv("HOME", testsupport.BaseDir(cfg))
	path := filepath.Join(testsupport.BaseDir(cfg), "sequentier.toml")
	testsupport.WriteConfig(t, path, cfg)
	return path
}

type okRunner struct{}

func (okRunner) Run(context.Context, worker.Invocation) (worker.Result, error) {
	return worker.Result{}, nil
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "sequentier.toml")

	out, _, err := runCLI(t, []string{"config", "init", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", target}, ""); err == nil {
		t.Fatal("expected second init to refuse overwriting")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--overwrite", target}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigShowSubstitutesUser(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMapping("signer", "/opt/signer"))
	path := writeCLIConfig(t, cfg)

	out, stderr, err := runCLI(t, []string{"config", "show", "--user", "alice"}, path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, stderr, path)
	requireContains(t, out, filepath.Join(testsupport.BaseDir(cfg), "watch", "alice"))
	requireContains(t, out, filepath.Join(testsupport.BaseDir(cfg), "out", "alice"))
	if strings.Contains(out, config.UserToken) {
		t.Fatalf("expected {USER} substituted, got:\n%s", out)
	}

	if _, _, err := runCLI(t, []string{"config", "show", "--format", "yaml"}, path); err == nil {
		t.Fatal("expected unsupported format to fail")
	}
}

func TestQueueListReadsRecordFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeCLIConfig(t, cfg)
	_, store := testsupport.NewStore(t, cfg)
	if _, err := store.Enqueue("/in/a.pdf", "signer", "alice", "run-42"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "list", "--user", "alice"}, path)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "run-42")
	requireContains(t, out, "Pending")
	requireContains(t, out, "0/1")

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	out, _, err = runCLI(t, []string{"queue", "list", "--user", "alice", "--date", yesterday}, path)
	if err != nil {
		t.Fatalf("queue list --date: %v", err)
	}
	requireContains(t, out, "No jobs")

	if _, _, err := runCLI(t, []string{"queue", "list"}, path); err == nil {
		t.Fatal("expected missing --user to fail")
	}
	if _, _, err := runCLI(t, []string{"queue", "list", "--user", "alice", "--date", "03/04"}, path); err == nil {
		t.Fatal("expected malformed --date to fail")
	}
}

func TestEnqueueThroughDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMapping("signer", "/opt/signer"))
	cfg.API.Token = "secret"
	cell, store := testsupport.NewStore(t, cfg)
	processor := workflow.NewProcessor(store, okRunner{}, nil, nil)
	d, err := daemon.New(cell, store, workflow.NewManager(cell, store, processor, nil), retention.NewSweeper(cell, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}
	t.Cleanup(d.Stop)

	cliCfg := *cfg
	cliCfg.API.Bind = d.APIAddress()
	path := writeCLIConfig(t, &cliCfg)

	input := filepath.Join(testsupport.BaseDir(cfg), "watch", "alice", "doc.pdf")
	testsupport.WriteFile(t, input, 8)

	out, _, err := runCLI(t, []string{"enqueue", input, "--app", "signer", "--user", "alice", "--run", "r1"}, path)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Queued "+input)
	requireContains(t, out, "Run:    r1")

	testsupport.WaitFor(t, 5*time.Second, func() bool {
		jobs, err := store.Jobs("alice")
		return err == nil && len(jobs) == 1 && jobs[0].Status == queue.StatusCompleted
	})

	if _, _, err := runCLI(t, []string{"enqueue", input, "--user", "alice"}, path); err == nil {
		t.Fatal("expected missing --app to fail")
	}
}

func TestEnqueueWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = "127.0.0.1:1"
	path := writeCLIConfig(t, cfg)

	_, _, err := runCLI(t, []string{"enqueue", "/in/a.pdf", "--app", "signer", "--user", "alice"}, path)
	if err == nil || !strings.Contains(err.Error(), "sequentier run") {
		t.Fatalf("expected hint to start the daemon, got %v", err)
	}
}

func TestHistoryListsFinishedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeCLIConfig(t, cfg)

	out, _, err := runCLI(t, []string{"history"}, path)
	if err != nil {
		t.Fatalf("history without archive: %v", err)
	}
	requireContains(t, out, "No history yet")

	archive, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	finished := time.Now()
	for _, job := range []queue.Job{
		{ID: "j1", User: "alice", RunID: "alice-run", TargetApp: "signer", Status: queue.StatusCompleted, FinishedAt: &finished,
			Files: []queue.JobFile{{Path: "/in/a.pdf", Status: queue.StatusCompleted}}},
		{ID: "j2", User: "bob", RunID: "bob-run", TargetApp: "signer", Status: queue.StatusFailed, FinishedAt: &finished,
			Files: []queue.JobFile{{Path: "/in/b.pdf", Status: queue.StatusFailed}}},
	} {
		if err := archive.Record(context.Background(), job); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out, _, err = runCLI(t, []string{"history", "--user", "alice"}, path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "alice-run")
	if strings.Contains(out, "bob-run") {
		t.Fatalf("expected bob filtered out, got:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"history", "--limit", "1"}, path)
	if err != nil {
		t.Fatalf("history --limit: %v", err)
	}
	if strings.Count(out, "-run") != 1 {
		t.Fatalf("expected exactly one entry, got:\n%s", out)
	}
}

func TestLogsPrintsRunLogTail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeCLIConfig(t, cfg)
	userCfg, err := cfg.ForUser("alice")
	if err != nil {
		t.Fatalf("ForUser failed: %v", err)
	}
	logPath := logging.RunLogPath(userCfg.QueueDirectory, "r1")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write run log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--user", "alice", "--run", "r1", "-n", "2"}, path)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	_, stderr, err := runCLI(t, []string{"logs", "--user", "alice", "--run", "missing"}, path)
	if err != nil {
		t.Fatalf("logs for missing run: %v", err)
	}
	requireContains(t, stderr, "No log lines")
}
