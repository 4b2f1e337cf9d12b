package cache

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func cachedResult(path string) datamodel.Result {
	return datamodel.Result{
		FileInfo: datamodel.FileInfo{Path: path, SizeBytes: 12, DetectedType: datamodel.TypeText},
		MagicBytesAnalysis: datamodel.MagicBytesAnalysis{
			PrimaryFormat:      "UNKNOWN",
			EmbeddedFiles:      []datamodel.SignatureMatch{},
			SuspiciousFindings: []string{},
		},
		FormatSpecificAnalysis: datamodel.TextAnalysis{FileType: "TXT", LineCount: 1, WordCount: 2, CharacterCount: 12, SizeBytes: 12},
		Summary: datamodel.Summary{
			ConfidenceLevel:  datamodel.ConfidenceNone,
			ThreatIndicators: []string{},
			Recommendations:  []string{"No obvious steganography detected"},
		},
		Timestamp: "2025-03-01T12:00:00Z",
	}
}

func TestCache(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "test in memory",
			test: func(t *testing.T) {
				cache, err := NewCache(t.Context(), "")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				defer cache.Close()
				entry1 := Entry{
					Key:    ComputeKey("abcdef", "png", 30, false),
					SHA256: "abcdef",
					Result: cachedResult("/test/abc"),
				}
				err = cache.Set(t.Context(), &entry1)
				if err != nil {
					t.Errorf("cache.Set(entry1) error = %v", err)
					return
				}
				entry2, err := cache.Get(t.Context(), entry1.Key)
				if err != nil {
					t.Errorf("cache.Get(entry1.Key) error = %v", err)
					return
				}
				if diff := cmp.Diff(entry1.Result, entry2.Result, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("cache.Get(entry1.Key) mismatch (-want +got):\n%s", diff)
					return
				}

				entry2.Result = cachedResult("/tmp/def")
				err = cache.Set(t.Context(), entry2)
				if err != nil {
					t.Errorf("cache.Set(entry2) error = %v", err)
					return
				}
				entry3, err := cache.Get(t.Context(), entry2.Key)
				if err != nil {
					t.Errorf("cache.Get(entry2.Key) error = %v", err)
					return
				}
				if entry3.Result.FileInfo.Path != "/tmp/def" {
					t.Errorf("cache.Get(entry2.Key) path = %s, want /tmp/def", entry3.Result.FileInfo.Path)
				}
			},
		},
		{
			name: "test file",
			test: func(t *testing.T) {
				tfile, err := os.CreateTemp(os.TempDir(), "test_db_*.db")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				tfile.Close()
				defer os.Remove(tfile.Name())
				cache, err := NewCache(t.Context(), tfile.Name())
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				entry := Entry{Key: "k", SHA256: "abcdef", Result: cachedResult("/test/abc")}
				if err = cache.Set(t.Context(), &entry); err != nil {
					t.Errorf("cache.Set(entry) error = %v", err)
					return
				}
				cache.Close()

				cache2, err := NewCache(t.Context(), tfile.Name())
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				defer cache2.Close()
				got, err := cache2.Get(t.Context(), "k")
				if err != nil {
					t.Errorf("cache.Get(k) error = %v", err)
					return
				}
				if got.SHA256 != "abcdef" || got.Result.FileInfo.Path != "/test/abc" {
					t.Errorf("cache.Get(k) = %+v", got)
				}
				if _, ok := got.Result.FormatSpecificAnalysis.(datamodel.TextAnalysis); !ok {
					t.Errorf("cache.Get(k) analysis = %T, want TextAnalysis", got.Result.FormatSpecificAnalysis)
				}
			},
		},
		{
			name: "entry not found",
			test: func(t *testing.T) {
				cache, err := NewCache(t.Context(), "")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				_, err = cache.Get(t.Context(), "test")
				if !errors.Is(err, ErrEntryNotFound) {
					t.Errorf("cache.Get(unknown) error = %v, want = %v", err, ErrEntryNotFound)
				}
			},
		},
		{
			name: "goroutines set",
			test: func(t *testing.T) {
				wg := sync.WaitGroup{}
				cache, err := NewCache(t.Context(), "")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				for i := range 50 {
					wg.Go(func() {
						if err := cache.Set(t.Context(), &Entry{Key: "test", Result: cachedResult("x")}); err != nil {
							t.Errorf("[%d]cache.Set() error = %v", i, err)
						}
					})
				}
				wg.Wait()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestComputeKey(t *testing.T) {
	base := ComputeKey("abc", "png", 30, false)
	if base != ComputeKey("abc", "png", 30, false) {
		t.Errorf("ComputeKey() is not stable")
	}
	for _, other := range []string{ComputeKey("abd", "png", 30, false), ComputeKey("abc", "jpg", 30, false), ComputeKey("abc", "png", 10, false), ComputeKey("abc", "png", 30, true)} {
		if other == base {
			t.Errorf("ComputeKey() collision for different options")
		}
	}
}
