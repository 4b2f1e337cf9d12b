package jobs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite in memory": func(t *testing.T) Store {
			s, err := NewSQLiteStore(t.Context(), "")
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		},
		"sqlite file": func(t *testing.T) Store {
			s, err := NewSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "db", "jobs.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		},
	}
}

func TestStore(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer func() {
				if err := store.Close(); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}()
			ctx := t.Context()

			if err := store.Create(ctx, Record{ID: "a", Filename: "a.png", Status: StatusPending}); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := store.Create(ctx, Record{ID: "a", Status: StatusPending}); !errors.Is(err, ErrJobExists) {
				t.Errorf("Create() duplicate error = %v, want ErrJobExists", err)
			}
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Get() error = %v, want ErrJobNotFound", err)
			}
			if _, err := store.Transition(ctx, "a", Update{Status: StatusCompleted}); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(pending -> completed) error = %v, want ErrInvalidTransition", err)
			}
			if _, err := store.Transition(ctx, "a", Update{Status: StatusProcessing}); err != nil {
				t.Fatalf("Transition(processing) error = %v", err)
			}
			res := &datamodel.Result{
				FileInfo:               datamodel.FileInfo{Path: "a.png", SizeBytes: 3, DetectedType: datamodel.TypeText},
				FormatSpecificAnalysis: datamodel.TextAnalysis{FileType: "TXT", CharacterCount: 3, SizeBytes: 3},
				MagicBytesAnalysis: datamodel.MagicBytesAnalysis{
					PrimaryFormat:      "UNKNOWN",
					EmbeddedFiles:      []datamodel.SignatureMatch{},
					SuspiciousFindings: []string{},
				},
				Summary: datamodel.Summary{
					ConfidenceLevel:  datamodel.ConfidenceNone,
					ThreatIndicators: []string{},
					Recommendations:  []string{"No obvious steganography detected"},
				},
				Timestamp: "2025-03-01T12:00:00Z",
			}
			if _, err := store.Transition(ctx, "a", Update{Status: StatusCompleted, Result: res}); err != nil {
				t.Fatalf("Transition(completed) error = %v", err)
			}
			if _, err := store.Transition(ctx, "a", Update{Status: StatusFailed, Error: "late"}); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(completed -> failed) error = %v, want ErrInvalidTransition", err)
			}

			got, err := store.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Status != StatusCompleted || got.Filename != "a.png" || got.Error != "" {
				t.Errorf("Get() = %+v", got)
			}
			if diff := cmp.Diff(res, got.Result, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Get() result mismatch (-want +got):\n%s", diff)
			}

			if err := store.Create(ctx, Record{ID: "b", Status: StatusPending}); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			deleted, err := store.DeleteBefore(ctx, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatalf("DeleteBefore() error = %v", err)
			}
			if deleted != 1 {
				t.Errorf("DeleteBefore() = %d, want 1", deleted)
			}
			if _, err := store.Get(ctx, "b"); err != nil {
				t.Errorf("Get(b) error = %v, pending records must be kept", err)
			}
		})
	}
}

func TestSQLiteStore_reopen(t *testing.T) {
	location := filepath.Join(t.TempDir(), "jobs.db")
	store, err := NewSQLiteStore(t.Context(), location)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err = store.Create(t.Context(), Record{ID: "a", Filename: "x.wav", Status: StatusPending}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err = store.Transition(t.Context(), "a", Update{Status: StatusFailed, Error: "decode error"}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if err = store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err = os.Stat(location); err != nil {
		t.Fatalf("store file error = %v", err)
	}

	store, err = NewSQLiteStore(t.Context(), location)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()
	got, err := store.Get(t.Context(), "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusFailed || got.Error != "decode error" || got.Result != nil {
		t.Errorf("Get() = %+v, want failed record", got)
	}
}

func TestStatus_Public(t *testing.T) {
	tests := []struct {
		status Status
		want   Status
	}{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusProcessing},
		{StatusCompleted, StatusCompleted},
		{StatusFailed, StatusFailed},
	}
	for _, tt := range tests {
		if got := tt.status.Public(); got != tt.want {
			t.Errorf("%s.Public() = %s, want %s", tt.status, got, tt.want)
		}
	}
}
