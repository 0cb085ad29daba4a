package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	emptyFile := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyFile, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	t.Setenv("JOB_RADAR_TEST_SECRET", " from-env ")

	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr string
	}{
		{
			name: "file beats value",
			src:  Source{Name: "api key", Value: "inline", File: keyFile, Env: "JOB_RADAR_TEST_SECRET"},
			want: "from-file",
		},
		{
			name: "value beats env",
			src:  Source{Name: "api key", Value: " inline ", Env: "JOB_RADAR_TEST_SECRET"},
			want: "inline",
		},
		{
			name: "env fallback",
			src:  Source{Name: "api key", Env: "JOB_RADAR_TEST_SECRET"},
			want: "from-env",
		},
		{
			name:    "missing file",
			src:     Source{Name: "api key", File: filepath.Join(dir, "missing")},
			wantErr: "reading api key from file",
		},
		{
			name:    "empty file",
			src:     Source{Name: "api key", File: emptyFile, Value: "inline"},
			wantErr: "is empty",
		},
		{
			name:    "nothing configured",
			src:     Source{Env: "JOB_RADAR_TEST_UNSET"},
			wantErr: "secret is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	got, err := Optional(Source{Name: "smtp password"})
	if err != nil || got != "" {
		t.Fatalf("expected empty secret without error, got %q, %v", got, err)
	}

	if _, err := Optional(Source{Name: "smtp password", File: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected explicit file to be required")
	}
}
