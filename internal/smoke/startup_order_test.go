package smoke

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSmoke_StartupPhasesFollowRequiredOrder(t *testing.T) {
	bin := buildEmberBinary(t)
	home := t.TempDir()

	cmd := exec.Command(bin, "-headless")
	cmd.Env = append(os.Environ(),
		"EMBER_HOME="+home,
		"EMBER_NO_TUI=1",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start headless: %v", err)
	}

	logPath := filepath.Join(home, "logs", "ember.jsonl")
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), `"phase":"dispatcher_started"`) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = cmd.Process.Signal(os.Interrupt)
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()
	select {
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		t.Fatalf("headless run did not exit after signal")
	case <-waitDone:
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read logs: %v", err)
	}

	phases := map[string]int{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		phase, _ := entry["phase"].(string)
		if phase == "" {
			continue
		}
		if _, exists := phases[phase]; !exists {
			phases[phase] = lineNo
		}
	}
	required := []string{
		"config_loaded",
		"schema_migrated",
		"maintenance_armed",
		"dispatcher_started",
	}
	for _, phase := range required {
		if _, ok := phases[phase]; !ok {
			t.Fatalf("missing startup phase %q in logs\noutput=%s", phase, out.String())
		}
	}
	for i := 1; i < len(required); i++ {
		prev := required[i-1]
		cur := required[i]
		if phases[prev] >= phases[cur] {
			t.Fatalf("phase ordering invalid: %s(%d) >= %s(%d)", prev, phases[prev], cur, phases[cur])
		}
	}

	if !strings.Contains(string(data), `"msg":"shutdown complete"`) {
		t.Fatalf("expected a clean shutdown log line\nlogs=%s", data)
	}
}

func TestSmoke_StartupFailureEmitsReasonCode(t *testing.T) {
	bin := buildEmberBinary(t)
	home := t.TempDir()

	// An unparseable backup schedule is rejected at config load.
	badConfig := "maintenance:\n  backup_enabled: true\n  backup_schedule: whenever\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(badConfig), 0o644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	cmd := exec.Command(bin, "-headless")
	cmd.Env = append(os.Environ(),
		"EMBER_HOME="+home,
		"EMBER_NO_TUI=1",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		t.Fatalf("expected startup failure for invalid config")
	}

	logData, _ := os.ReadFile(filepath.Join(home, "logs", "ember.jsonl"))
	combined := string(logData) + "\n" + out.String()
	if !strings.Contains(combined, `"reason_code":"E_CONFIG_LOAD"`) {
		t.Fatalf("expected structured startup reason_code in output/logs\ncombined=%s", combined)
	}
	if !strings.Contains(combined, `"msg":"startup failure"`) {
		t.Fatalf("expected startup failure log message\ncombined=%s", combined)
	}
	if !strings.Contains(combined, `"component":"ember"`) {
		t.Fatalf("expected ember component field\ncombined=%s", combined)
	}
}

func TestSmoke_HeadlessSummaryShowsCounts(t *testing.T) {
	bin := buildEmberBinary(t)
	home := t.TempDir()

	archive := `{"version": 1, "tags": [{"name": "web"}], "projects": [{"name": "beacon"}]}`
	inPath := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(inPath, []byte(archive), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if out, err := runEmber(t, bin, home, "import", inPath); err != nil {
		t.Fatalf("seed import failed: %v\n%s", err, out)
	}

	cmd := exec.Command(bin, "-headless")
	cmd.Env = append(os.Environ(),
		"EMBER_HOME="+home,
		"EMBER_NO_TUI=1",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start headless: %v", err)
	}

	// The "running headless" line is logged right after the summary prints,
	// so its presence in the log file means the summary is complete.
	logPath := filepath.Join(home, "logs", "ember.jsonl")
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), "running headless") {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = cmd.Process.Signal(os.Interrupt)
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()
	select {
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		t.Fatalf("headless run did not exit after signal")
	case <-waitDone:
	}

	summary := out.String()
	if !strings.Contains(summary, "projects:  1") {
		t.Fatalf("summary missing project count\noutput=%s", summary)
	}
	if !strings.Contains(summary, "tags:      1") {
		t.Fatalf("summary missing tag count\noutput=%s", summary)
	}
}
