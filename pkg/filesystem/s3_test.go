package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/go-cmp/cmp"
)

type S3ClientMock struct {
	HeadObjectMock    func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectMock     func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucketMock    func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2Mock func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObjectMock     func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateBucketMock  func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

func (m *S3ClientMock) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.HeadObjectMock != nil {
		return m.HeadObjectMock(ctx, params, optFns...)
	}
	panic("S3ClientMock.HeadObject() not implemented in current test")
}

func (m *S3ClientMock) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.GetObjectMock != nil {
		return m.GetObjectMock(ctx, params, optFns...)
	}
	panic("S3ClientMock.GetObject() not implemented in current test")
}

func (m *S3ClientMock) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.HeadBucketMock != nil {
		return m.HeadBucketMock(ctx, params, optFns...)
	}
	panic("S3ClientMock.HeadBucket() not implemented in current test")
}

func (m *S3ClientMock) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.ListObjectsV2Mock != nil {
		return m.ListObjectsV2Mock(ctx, params, optFns...)
	}
	panic("S3ClientMock.ListObjectsV2() not implemented in current test")
}

func (m *S3ClientMock) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectMock != nil {
		return m.PutObjectMock(ctx, params, optFns...)
	}
	panic("S3ClientMock.PutObject() not implemented in current test")
}

func (m *S3ClientMock) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if m.CreateBucketMock != nil {
		return m.CreateBucketMock(ctx, params, optFns...)
	}
	panic("S3ClientMock.CreateBucket() not implemented in current test")
}

func notFound() error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      errors.New("not found"),
		},
	}
}

func TestS3FileSystem_ReadFile(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		size      int64
		headErr   error
		maxSize   int64
		wantData  string
		wantErr   bool
		wantLarge bool
		wantGet   bool
	}{
		{name: "successful read", path: "bucket/dir/cover.png", body: "content", size: 7, wantData: "content", wantGet: true},
		{name: "too large from head", path: "bucket/big.bin", size: 100, maxSize: 10, wantErr: true, wantLarge: true},
		{name: "body longer than announced", path: "bucket/liar.bin", body: "0123456789ab", size: 4, maxSize: 10, wantErr: true, wantLarge: true, wantGet: true},
		{name: "head error", path: "bucket/missing", headErr: errors.New("S3 error"), wantErr: true},
		{name: "bucket only", path: "bucket", wantErr: true},
		{name: "no bucket", path: "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotGet := false
			mock := &S3ClientMock{
				HeadObjectMock: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					if aws.ToString(params.Bucket) != "bucket" {
						t.Errorf("HeadObject() called on bad bucket %s", aws.ToString(params.Bucket))
					}
					return &s3.HeadObjectOutput{ContentLength: aws.Int64(tt.size)}, tt.headErr
				},
				GetObjectMock: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
					gotGet = true
					return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(tt.body))}, nil
				},
			}
			fsys := &S3FileSystem{client: mock}
			got, err := fsys.ReadFile(t.Context(), tt.path, tt.maxSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("S3FileSystem.ReadFile() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantLarge && !errors.Is(err, ErrTooLarge) {
				t.Errorf("S3FileSystem.ReadFile() error = %v, want %v", err, ErrTooLarge)
			}
			if gotGet != tt.wantGet {
				t.Errorf("S3FileSystem.ReadFile() GetObject called = %v, want %v", gotGet, tt.wantGet)
			}
			if err == nil && string(got) != tt.wantData {
				t.Errorf("S3FileSystem.ReadFile() = %q, want %q", got, tt.wantData)
			}
		})
	}
}

func TestS3FileSystem_Stat(t *testing.T) {
	modTime := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		path      string
		client    *S3ClientMock
		wantDir   bool
		wantSize  int64
		wantErr   bool
		wantNotEx bool
	}{
		{
			name: "bucket",
			path: "bucket",
			client: &S3ClientMock{
				HeadBucketMock: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
					return &s3.HeadBucketOutput{}, nil
				},
			},
			wantDir: true,
		},
		{
			name: "missing bucket",
			path: "bucket",
			client: &S3ClientMock{
				HeadBucketMock: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
					return nil, notFound()
				},
			},
			wantErr:   true,
			wantNotEx: true,
		},
		{
			name: "object",
			path: "bucket/a.png",
			client: &S3ClientMock{
				HeadObjectMock: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return &s3.HeadObjectOutput{ContentLength: aws.Int64(42), LastModified: &modTime}, nil
				},
			},
			wantSize: 42,
		},
		{
			name: "prefix",
			path: "bucket/dir",
			client: &S3ClientMock{
				HeadObjectMock: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return nil, notFound()
				},
				ListObjectsV2Mock: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
					if aws.ToString(params.Prefix) != "dir/" {
						t.Errorf("ListObjectsV2() prefix = %s, want dir/", aws.ToString(params.Prefix))
					}
					return &s3.ListObjectsV2Output{Contents: []types.Object{{Key: aws.String("dir/a.png")}}}, nil
				},
			},
			wantDir: true,
		},
		{
			name: "missing object",
			path: "bucket/nothing",
			client: &S3ClientMock{
				HeadObjectMock: func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					return nil, notFound()
				},
				ListObjectsV2Mock: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
					return &s3.ListObjectsV2Output{}, nil
				},
			},
			wantErr:   true,
			wantNotEx: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := &S3FileSystem{client: tt.client}
			info, err := fsys.Stat(t.Context(), tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("S3FileSystem.Stat() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantNotEx && !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("S3FileSystem.Stat() error = %v, want %v", err, fs.ErrNotExist)
			}
			if err != nil {
				return
			}
			if info.IsDir() != tt.wantDir || info.Size() != tt.wantSize {
				t.Errorf("S3FileSystem.Stat() = dir %v size %d, want dir %v size %d", info.IsDir(), info.Size(), tt.wantDir, tt.wantSize)
			}
		})
	}
}

func TestS3FileSystem_WalkDir(t *testing.T) {
	mock := &S3ClientMock{
		HeadBucketMock: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
			return &s3.HeadBucketOutput{}, nil
		},
		ListObjectsV2Mock: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			switch aws.ToString(params.Prefix) {
			case "":
				return &s3.ListObjectsV2Output{
					Contents:       []types.Object{{Key: aws.String("a.png"), Size: aws.Int64(3)}},
					CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("sub/")}, {Prefix: aws.String("skip/")}},
				}, nil
			case "sub/":
				return &s3.ListObjectsV2Output{
					Contents: []types.Object{{Key: aws.String("sub/")}, {Key: aws.String("sub/b.mp3")}},
				}, nil
			default:
				t.Errorf("ListObjectsV2() unexpected prefix %s", aws.ToString(params.Prefix))
				return &s3.ListObjectsV2Output{}, nil
			}
		},
	}
	fsys := &S3FileSystem{client: mock}

	var got []string
	err := fsys.WalkDir(t.Context(), "bucket", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path == "bucket/skip/" {
			return fs.SkipDir
		}
		got = append(got, path)
		return nil
	})
	if err != nil {
		t.Fatalf("S3FileSystem.WalkDir() error = %v", err)
	}
	want := []string{"bucket", "bucket/sub/", "bucket/sub/b.mp3", "bucket/a.png"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("S3FileSystem.WalkDir() diff(-want+got) = %s", diff)
	}
}

func TestS3FileSystem_Create(t *testing.T) {
	var uploaded bytes.Buffer
	mock := &S3ClientMock{
		PutObjectMock: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			if aws.ToString(params.Bucket) != "reports" || aws.ToString(params.Key) != "2025/r.json" {
				t.Errorf("PutObject() called on %s/%s", aws.ToString(params.Bucket), aws.ToString(params.Key))
			}
			_, err := io.Copy(&uploaded, params.Body)
			return &s3.PutObjectOutput{}, err
		},
	}
	fsys := &S3FileSystem{client: mock}
	w, err := fsys.Create(t.Context(), "reports/2025/r.json")
	if err != nil {
		t.Fatalf("S3FileSystem.Create() error = %v", err)
	}
	if _, err = w.Write([]byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if uploaded.Len() != 0 {
		t.Errorf("object uploaded before Close()")
	}
	if err = w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if uploaded.String() != `{"ok":true}` {
		t.Errorf("uploaded = %s", uploaded.String())
	}
	if _, err = fsys.Create(t.Context(), "reports"); err == nil {
		t.Errorf("S3FileSystem.Create() on a bucket, want error")
	}
}

func TestS3FileSystem_MkdirAll(t *testing.T) {
	tests := []struct {
		name        string
		headErr     error
		createErr   error
		wantCreated bool
		wantErr     bool
	}{
		{name: "bucket exists"},
		{name: "bucket created", headErr: notFound(), wantCreated: true},
		{name: "bucket created meanwhile", headErr: notFound(), createErr: &types.BucketAlreadyOwnedByYou{}, wantCreated: true},
		{name: "head failure", headErr: errors.New("denied"), wantErr: true},
		{name: "create failure", headErr: &types.NoSuchBucket{}, createErr: errors.New("denied"), wantCreated: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := false
			mock := &S3ClientMock{
				HeadBucketMock: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
					return &s3.HeadBucketOutput{}, tt.headErr
				},
				CreateBucketMock: func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
					created = true
					return &s3.CreateBucketOutput{}, tt.createErr
				},
			}
			err := (&S3FileSystem{client: mock}).MkdirAll(t.Context(), "reports/2025", 0o755)
			if (err != nil) != tt.wantErr {
				t.Errorf("S3FileSystem.MkdirAll() error = %v, wantErr %v", err, tt.wantErr)
			}
			if created != tt.wantCreated {
				t.Errorf("S3FileSystem.MkdirAll() created = %v, want %v", created, tt.wantCreated)
			}
		})
	}
}

func TestS3Watcher_checkForChanges(t *testing.T) {
	old := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	listing := []types.Object{
		{Key: aws.String("in/a.png"), Size: aws.Int64(1), LastModified: &old},
		{Key: aws.String("in/b.png"), Size: aws.Int64(1), LastModified: &old},
	}
	mock := &S3ClientMock{
		HeadBucketMock: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
			return &s3.HeadBucketOutput{}, nil
		},
		ListObjectsV2Mock: func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			return &s3.ListObjectsV2Output{Contents: listing}, nil
		},
	}
	fsys := &S3FileSystem{client: mock, config: S3Config{MonitoringPeriod: time.Hour}}
	w, err := newS3Watcher(t.Context(), fsys, "bucket")
	if err != nil {
		t.Fatalf("newS3Watcher() error = %v", err)
	}
	defer func() {
		if e := w.Close(); e != nil {
			t.Errorf("Close() error = %v", e)
		}
	}()

	newer := old.Add(time.Minute)
	listing = []types.Object{
		{Key: aws.String("in/a.png"), Size: aws.Int64(1), LastModified: &old},
		{Key: aws.String("in/b.png"), Size: aws.Int64(2), LastModified: &newer},
		{Key: aws.String("in/c.png"), Size: aws.Int64(1), LastModified: &newer},
		{Key: aws.String("in/")},
	}
	if err = w.checkForChanges(); err != nil {
		t.Fatalf("checkForChanges() error = %v", err)
	}

	got := map[string]WatchEventType{}
	for range 2 {
		event := <-w.Events()
		got[event.Path] = event.Type
	}
	want := map[string]WatchEventType{"bucket/in/b.png": WatchEventWrite, "bucket/in/c.png": WatchEventCreate}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checkForChanges() events diff(-want+got) = %s", diff)
	}
}
