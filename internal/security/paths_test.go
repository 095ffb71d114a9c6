package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinDir(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	for _, d := range []string{safe, outside} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	link := filepath.Join(safe, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "a.png"), false},
		{"new nested file", filepath.Join(safe, "x", "y", "a.png"), false},
		{"dot dot", filepath.Join(safe, "..", "a.png"), true},
		{"sibling", filepath.Join(outside, "a.png"), true},
		{"through symlink", filepath.Join(link, "a.png"), true},
		{"new file through symlink", filepath.Join(link, "new", "a.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithinDir(%s) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	if err := ValidateOutputPath(filepath.Join(t.TempDir(), "plot.png")); err != nil {
		t.Errorf("temp dir path rejected: %v", err)
	}
	if err := ValidateOutputPath("readings.png"); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if err := ValidateOutputPath("/proc/self/plot.png"); err == nil {
		t.Error("expected /proc path to be rejected")
	}
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"living-room":      "living-room",
		"Living Room #2":   "Living_Room_2",
		"../../etc/passwd": "etc_passwd",
		"":                 "unknown",
		"..":               "unknown",
	}
	for in, want := range tests {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
