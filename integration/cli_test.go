//go:build integration

package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary, building it on
// demand.
func binaryPath(t *testing.T) string {
	t.Helper()
	paths := []string{
		"../phase-orch",
		"./phase-orch",
		filepath.Join(os.Getenv("GOPATH"), "bin", "phase-orch"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	t.Log("binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../phase-orch", "../cmd/phase-orch")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building binary: %v\n%s", err, out)
	}
	abs, _ := filepath.Abs("../phase-orch")
	return abs
}

func testConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return WriteConfig(t, fmt.Sprintf(`
[general]
repo_root = "%s"
log_path = "%s"
database_path = "%s"

[notifications]
desktop = false

[[phases]]
id = "parser"
branch = "phase/parser"
description = "Document parsers"
task_list = "tasks-parser.yaml"

[[phases]]
id = "render"
branch = "phase/render"
description = "PDF rendering"
task_list = "tasks-render.yaml"
`, dir, filepath.Join(dir, "run.log"), filepath.Join(dir, "history.db")))
}

func TestCLI_StatusListsPhases(t *testing.T) {
	binary := binaryPath(t)
	configPath := testConfigFile(t)

	cmd := exec.Command(binary, "status", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}

	output := string(out)
	for _, want := range []string{"parser", "render", "never run"} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestCLI_RunUnknownPhase(t *testing.T) {
	binary := binaryPath(t)
	configPath := testConfigFile(t)

	cmd := exec.Command(binary, "run", "ghost", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected failure for unknown start phase, got:\n%s", out)
	}
	if !strings.Contains(string(out), "unknown phase") {
		t.Errorf("output missing unknown-phase error:\n%s", out)
	}
}

func TestCLI_DoctorReportsMissingAgent(t *testing.T) {
	binary := binaryPath(t)
	dir := t.TempDir()
	configPath := WriteConfig(t, fmt.Sprintf(`
[general]
repo_root = "%s"

[agent]
command = "no-such-agent-binary"

[[phases]]
id = "parser"
branch = "phase/parser"
description = "Document parsers"
task_list = "tasks-parser.yaml"
`, dir))

	cmd := exec.Command(binary, "doctor", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected doctor to fail, got:\n%s", out)
	}
	output := string(out)
	if !strings.Contains(output, "FAIL") || !strings.Contains(output, "no-such-agent-binary") {
		t.Errorf("doctor output missing failed agent check:\n%s", output)
	}
}

func TestCLI_InvalidCommand(t *testing.T) {
	binary := binaryPath(t)

	cmd := exec.Command(binary, "definitely-not-a-command")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Error("expected error for invalid command")
	}
	if !strings.Contains(string(out), "unknown command") {
		t.Errorf("expected unknown command error, got:\n%s", out)
	}
}
