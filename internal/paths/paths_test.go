package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~", home},
		{"~/state/x.json", filepath.Join(home, "state/x.json")},
	}
	for _, tt := range tests {
		got, err := ExpandTilde(tt.in)
		if err != nil {
			t.Fatalf("ExpandTilde(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatePath(t *testing.T) {
	p, err := StatePath("baidu")
	if err != nil {
		t.Skip("no home directory")
	}
	if !strings.HasSuffix(p, filepath.Join(".chatrelay", "state", "baidu_state.json")) {
		t.Errorf("StatePath = %q", p)
	}
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "file.json")
	if err := EnsureParentDir(target); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if st, err := os.Stat(filepath.Dir(target)); err != nil || !st.IsDir() {
		t.Errorf("parent dir not created: %v", err)
	}
}
