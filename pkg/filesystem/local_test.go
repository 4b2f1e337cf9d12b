package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLocalFileSystem_ReadFile(t *testing.T) {
	tests := []struct {
		name      string
		content   []byte
		missing   bool
		maxSize   int64
		wantData  []byte
		wantErr   bool
		wantLarge bool
	}{
		{
			name:     "successful file read",
			content:  []byte("test file content"),
			wantData: []byte("test file content"),
		},
		{
			name:     "empty file",
			content:  []byte{},
			wantData: []byte{},
		},
		{
			name:     "file at the limit",
			content:  []byte("12345"),
			maxSize:  5,
			wantData: []byte("12345"),
		},
		{
			name:      "file too large",
			content:   []byte("123456"),
			maxSize:   5,
			wantErr:   true,
			wantLarge: true,
		},
		{
			name:    "file not found",
			missing: true,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := filepath.Join(t.TempDir(), "nonexistent.txt")
			if !tt.missing {
				f, err := os.CreateTemp(t.TempDir(), "test_*.txt")
				if err != nil {
					t.Fatalf("failed to create temp file: %v", err)
				}
				if _, err := f.Write(tt.content); err != nil {
					t.Fatalf("failed to write test content: %v", err)
				}
				if err := f.Close(); err != nil {
					t.Fatalf("failed to close temp file: %v", err)
				}
				name = f.Name()
			}

			got, err := NewLocalFileSystem().ReadFile(t.Context(), name, tt.maxSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("LocalFileSystem.ReadFile() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantLarge && !errors.Is(err, ErrTooLarge) {
				t.Errorf("LocalFileSystem.ReadFile() error = %v, want %v", err, ErrTooLarge)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.wantData, got); diff != "" {
				t.Errorf("LocalFileSystem.ReadFile() diff(-want+got) = %s", diff)
			}
		})
	}
}

func TestLocalFileSystem_WalkDir(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"a.png", "sub/b.mp3", "sub/deep/c.txt"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(full, []byte(p), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	var got []string
	err := NewLocalFileSystem().WalkDir(t.Context(), root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			got = append(got, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("LocalFileSystem.WalkDir() error = %v", err)
	}
	slices.Sort(got)
	if diff := cmp.Diff([]string{"a.png", "sub/b.mp3", "sub/deep/c.txt"}, got); diff != "" {
		t.Errorf("LocalFileSystem.WalkDir() diff(-want+got) = %s", diff)
	}
}

func TestLocalFileSystem_Create(t *testing.T) {
	fsys := NewLocalFileSystem()
	dir := filepath.Join(t.TempDir(), "reports", "2025")
	if err := fsys.MkdirAll(t.Context(), dir, 0o755); err != nil {
		t.Fatalf("LocalFileSystem.MkdirAll() error = %v", err)
	}
	name := filepath.Join(dir, "report.json")
	w, err := fsys.Create(t.Context(), name)
	if err != nil {
		t.Fatalf("LocalFileSystem.Create() error = %v", err)
	}
	if _, err = w.Write([]byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err = w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got, err := fsys.ReadFile(t.Context(), name, 0)
	if err != nil {
		t.Fatalf("LocalFileSystem.ReadFile() error = %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("LocalFileSystem.ReadFile() = %s", got)
	}
	if !fsys.IsLocal() {
		t.Errorf("LocalFileSystem.IsLocal() = false")
	}
}

func TestLocalFileSystem_Watch(t *testing.T) {
	root := t.TempDir()
	w, err := NewLocalFileSystem().Watch(t.Context(), root)
	if err != nil {
		t.Fatalf("LocalFileSystem.Watch() error = %v", err)
	}
	defer func() {
		if e := w.Close(); e != nil {
			t.Errorf("Watcher.Close() error = %v", e)
		}
	}()

	sub := filepath.Join(root, "incoming")
	if err = os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	// let the watcher pick up the new directory
	time.Sleep(100 * time.Millisecond)
	want := filepath.Join(sub, "cover.png")
	if err = os.WriteFile(want, []byte("data"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-w.Events():
			if event.FileInfo != nil && event.FileInfo.IsDir() {
				t.Errorf("Watcher emitted directory event %s", event.Path)
			}
			if event.Path == want {
				return
			}
		case err := <-w.Errors():
			t.Fatalf("Watcher error = %v", err)
		case <-timeout:
			t.Fatalf("no event received for %s", want)
		}
	}
}

func TestRouter_Resolve(t *testing.T) {
	local := NewLocalFileSystem()
	s3fs := &S3FileSystem{}
	tests := []struct {
		name     string
		router   Router
		path     string
		wantFS   FileSystem
		wantName string
		wantErr  error
	}{
		{name: "local path", router: Router{Local: local, S3: s3fs}, path: "/tmp/a.png", wantFS: local, wantName: "/tmp/a.png"},
		{name: "s3 path", router: Router{Local: local, S3: s3fs}, path: "s3://bucket/a.png", wantFS: s3fs, wantName: "bucket/a.png"},
		{name: "s3 not configured", router: Router{Local: local}, path: "s3://bucket/a.png", wantErr: ErrS3NotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, name, err := tt.router.Resolve(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Router.Resolve() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if fsys != tt.wantFS || name != tt.wantName {
				t.Errorf("Router.Resolve() = %T %q, want %T %q", fsys, name, tt.wantFS, tt.wantName)
			}
		})
	}
}
