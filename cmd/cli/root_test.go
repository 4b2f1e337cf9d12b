package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFiles(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(existing, []byte("png"), 0o600); err != nil {
		t.Fatalf("could not create test file, error: %v", err)
	}
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "no path", wantErr: true},
		{name: "local file", args: []string{existing}},
		{name: "s3 path", args: []string{"s3://bucket/prefix"}},
		{name: "missing file", args: []string{existing, filepath.Join(t.TempDir(), "missing")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkFiles(scanCmd, tt.args); (err != nil) != tt.wantErr {
				t.Errorf("checkFiles() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
