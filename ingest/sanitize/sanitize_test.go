package sanitize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		rawPath string
		want    string
	}{
		{
			name:    "plain name passes through",
			rawPath: "report.pdf",
			want:    "report.pdf",
		},
		{
			name:    "traversal segments dropped",
			rawPath: "../../etc/passwd",
			want:    "etc_passwd",
		},
		{
			name:    "absolute path made relative",
			rawPath: "/var/log/syslog",
			want:    "var_log_syslog",
		},
		{
			name:    "windows drive and separators",
			rawPath: `C:\Windows\system32\cmd.exe`,
			want:    "Windows_system32_cmd.exe",
		},
		{
			name:    "nested archive entry",
			rawPath: "docs/2024/q1/summary.txt",
			want:    "docs_2024_q1_summary.txt",
		},
		{
			name:    "disallowed characters replaced",
			rawPath: "весенний отчёт.txt",
			want:    strings.Repeat("_", 8) + "_" + strings.Repeat("_", 5) + ".txt",
		},
		{
			name:    "empty path",
			rawPath: "",
			want:    "unnamed",
		},
		{
			name:    "only traversal",
			rawPath: "../../../..",
			want:    "unnamed",
		},
		{
			name:    "leading dot stripped",
			rawPath: ".hidden",
			want:    "hidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.rawPath, map[string]struct{}{})
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.rawPath, got, tt.want)
			}
		})
	}
}

// TestSanitizeContainment fuzzes traversal-flavored inputs and verifies
// every output stays confined under a real working root.
func TestSanitizeContainment(t *testing.T) {
	root := t.TempDir()
	hostile := []string{
		"../../etc/passwd",
		"..\\..\\windows\\system32\\config\\sam",
		"/etc/shadow",
		"....//....//etc/passwd",
		"a/../../b/../../../c",
		"C:..\\boot.ini",
		"\\\\server\\share\\secret",
		"..",
		"./.././.././..",
		strings.Repeat("../", 64) + "deep",
		"normal/../still/../../tricky.txt",
	}

	used := map[string]struct{}{}
	for _, raw := range hostile {
		name := Sanitize(raw, used)
		used[name] = struct{}{}

		if strings.Contains(name, "..") {
			t.Errorf("Sanitize(%q) = %q contains ..", raw, name)
		}
		if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) {
			t.Errorf("Sanitize(%q) = %q is not a flat relative name", raw, name)
		}
		if !Contained(root, name) {
			t.Errorf("Sanitize(%q) = %q escapes root", raw, name)
		}

		// The joined path must stay under root even after symlink-free
		// resolution.
		joined := filepath.Join(root, name)
		if !strings.HasPrefix(joined, root+string(os.PathSeparator)) {
			t.Errorf("join(%q, %q) = %q escapes root", root, name, joined)
		}
	}
}

func TestSanitizeDeterministic(t *testing.T) {
	used := map[string]struct{}{"report.pdf": {}}

	first := Sanitize("report.pdf", used)
	second := Sanitize("report.pdf", used)
	if first != second {
		t.Errorf("same input against same used set differs: %q vs %q", first, second)
	}
	if first != "report_1.pdf" {
		t.Errorf("collision suffix = %q, want report_1.pdf", first)
	}
}

func TestSanitizeCollisions(t *testing.T) {
	used := map[string]struct{}{}

	a := Sanitize("dir/file.txt", used)
	used[a] = struct{}{}
	b := Sanitize("dir\\file.txt", used)
	used[b] = struct{}{}
	c := Sanitize("dir/file.txt", used)
	used[c] = struct{}{}

	if a != "dir_file.txt" || b != "dir_file_1.txt" || c != "dir_file_2.txt" {
		t.Errorf("collision sequence = %q, %q, %q", a, b, c)
	}
}
