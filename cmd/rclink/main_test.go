package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewApp_LogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rclink.log")
	content := `[General]
Role=controller
Identity=Tx001

[Radio]
Driver=sim

[Database]
Enabled=1
Path=` + filepath.Join(dir, "rclink.db") + `

[Log]
FilePath=` + logPath + `
`
	cfgPath := filepath.Join(dir, "rclink.ini")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	app, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	app.newLogger("[LOOP] ").Printf("loopback ready")
	app.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{"[DB] Pairing database opened", "Radio: sim", "[LOOP] loopback ready"} {
		if !strings.Contains(got, want) {
			t.Errorf("log file missing %q:\n%s", want, got)
		}
	}
}
