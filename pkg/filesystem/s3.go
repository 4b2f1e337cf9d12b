package filesystem

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/logging"
)

// S3Client is the part of *s3.Client the file system relies on.
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

const (
	listPageSize            = 1000
	defaultMonitoringPeriod = 10 * time.Second
)

// S3Config configures the S3 (or Minio) client.
type S3Config struct {
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	Region          string `yaml:"region" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	Insecure        bool   `yaml:"insecure" mapstructure:"insecure"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	// MonitoringPeriod is the listing interval of watched prefixes.
	MonitoringPeriod time.Duration `yaml:"monitoring_period" mapstructure:"monitoring_period"`
}

// S3FileSystem serves "bucket/key" paths.
type S3FileSystem struct {
	client S3Client
	config S3Config
}

var _ FileSystem = &S3FileSystem{}

// sdkLogger forwards the SDK messages to the package logger at debug level.
var sdkLogger = logging.LoggerFunc(func(classification logging.Classification, format string, v ...any) {
	logger.Debug(fmt.Sprintf(format, v...), slog.String("source", "aws-sdk"), slog.String("classification", string(classification)))
})

func NewS3FileSystem(ctx context.Context, cfg S3Config) (fsys *S3FileSystem, err error) {
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = defaultMonitoringPeriod
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithLogger(sdkLogger),
	}
	if cfg.Insecure {
		client := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly requested
		})
		loadOpts = append(loadOpts, config.WithHTTPClient(client))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		err = fmt.Errorf("could not load aws config: %w", err)
		return
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	fsys = &S3FileSystem{client: client, config: cfg}
	return
}

type location struct {
	bucket string
	key    string
}

func (l location) String() string {
	if l.key == "" {
		return l.bucket
	}
	return l.bucket + "/" + l.key
}

// dirPrefix is the listing prefix of the objects below l.
func (l location) dirPrefix() string {
	if l.key == "" || strings.HasSuffix(l.key, "/") {
		return l.key
	}
	return l.key + "/"
}

func (s *S3FileSystem) parsePath(p string) (loc location, err error) {
	loc.bucket, loc.key, _ = strings.Cut(strings.TrimPrefix(p, "/"), "/")
	if loc.bucket == "" {
		err = fmt.Errorf("invalid s3 path %q: bucket name required", p)
	}
	return
}

func isNotFound(err error) bool {
	var (
		respErr  *awshttp.ResponseError
		noBucket *types.NoSuchBucket
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	switch {
	case errors.As(err, &noBucket), errors.As(err, &noKey), errors.As(err, &notFound):
		return true
	case errors.As(err, &respErr):
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// objectInfo is the fs.FileInfo of an object or of a key prefix.
type objectInfo struct {
	key     string
	size    int64
	modTime time.Time
	dir     bool
}

func (o objectInfo) Name() string       { return path.Base(strings.TrimSuffix(o.key, "/")) }
func (o objectInfo) Size() int64        { return o.size }
func (o objectInfo) ModTime() time.Time { return o.modTime }
func (o objectInfo) IsDir() bool        { return o.dir }
func (o objectInfo) Sys() any           { return nil }

func (o objectInfo) Mode() fs.FileMode {
	if o.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

func fromObject(obj types.Object) objectInfo {
	return objectInfo{
		key:     aws.ToString(obj.Key),
		size:    aws.ToInt64(obj.Size),
		modTime: aws.ToTime(obj.LastModified),
	}
}

func (s *S3FileSystem) ReadFile(ctx context.Context, name string, maxSize int64) (data []byte, err error) {
	loc, err := s.parsePath(name)
	if err != nil {
		return
	}
	if loc.key == "" {
		err = fmt.Errorf("%s is a bucket, not an object", loc.bucket)
		return
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(loc.bucket), Key: aws.String(loc.key)})
	if err != nil {
		return
	}
	size := aws.ToInt64(head.ContentLength)
	if maxSize > 0 && size > maxSize {
		err = ErrTooLarge
		return
	}

	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(loc.bucket), Key: aws.String(loc.key)})
	if err != nil {
		return
	}
	defer func() {
		if e := obj.Body.Close(); e != nil {
			logger.Warn("could not close object body", slog.String("object", loc.String()), slog.String("error", e.Error()))
		}
	}()
	return readLimited(obj.Body, size, maxSize)
}

// Stat reports buckets and key prefixes as directories.
func (s *S3FileSystem) Stat(ctx context.Context, name string) (info fs.FileInfo, err error) {
	loc, err := s.parsePath(name)
	if err != nil {
		return
	}

	if loc.key == "" {
		if _, err = s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(loc.bucket)}); err != nil {
			if isNotFound(err) {
				err = errors.Join(fs.ErrNotExist, err)
			}
			return
		}
		info = objectInfo{key: loc.bucket, dir: true}
		return
	}

	head, headErr := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(loc.bucket), Key: aws.String(loc.key)})
	if headErr == nil {
		info = objectInfo{key: loc.key, size: aws.ToInt64(head.ContentLength), modTime: aws.ToTime(head.LastModified)}
		return
	}

	page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(loc.bucket),
		Prefix:  aws.String(loc.dirPrefix()),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return
	}
	if len(page.Contents) == 0 && len(page.CommonPrefixes) == 0 {
		err = fmt.Errorf("%s: %w", loc, fs.ErrNotExist)
		return
	}
	info = objectInfo{key: loc.key, dir: true}
	return
}

// Lstat is Stat, S3 has no links.
func (s *S3FileSystem) Lstat(ctx context.Context, name string) (fs.FileInfo, error) {
	return s.Stat(ctx, name)
}

// WalkDir visits root, then each level of the key hierarchy: sub prefixes
// first, then the objects of the level.
func (s *S3FileSystem) WalkDir(ctx context.Context, root string, fn fs.WalkDirFunc) (err error) {
	loc, err := s.parsePath(root)
	if err != nil {
		return
	}
	info, err := s.Stat(ctx, root)
	if err != nil {
		return fn(root, nil, err)
	}
	err = fn(root, fs.FileInfoToDirEntry(info), nil)
	if err == nil && info.IsDir() {
		err = s.walkLevel(ctx, loc.bucket, loc.dirPrefix(), fn)
	}
	if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
		err = nil
	}
	return
}

func (s *S3FileSystem) walkLevel(ctx context.Context, bucket, prefix string, fn fs.WalkDirFunc) error {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(listPageSize),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, p := range page.CommonPrefixes {
			sub := aws.ToString(p.Prefix)
			switch err := fn(bucket+"/"+sub, fs.FileInfoToDirEntry(objectInfo{key: sub, dir: true}), nil); {
			case errors.Is(err, fs.SkipDir):
			case err != nil:
				return err
			default:
				if err := s.walkLevel(ctx, bucket, sub, fn); err != nil {
					return err
				}
			}
		}
		for _, obj := range page.Contents {
			info := fromObject(obj)
			if strings.HasSuffix(info.key, "/") {
				// folder marker
				continue
			}
			if err := fn(bucket+"/"+info.key, fs.FileInfoToDirEntry(info), nil); err != nil && !errors.Is(err, fs.SkipDir) {
				return err
			}
		}
	}
	return nil
}

// objectWriter buffers the object content and uploads it on Close.
type objectWriter struct {
	bytes.Buffer
	ctx    context.Context
	client S3Client
	loc    location
}

func (w *objectWriter) Close() (err error) {
	_, err = w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.loc.bucket),
		Key:         aws.String(w.loc.key),
		Body:        bytes.NewReader(w.Bytes()),
		ContentType: aws.String(http.DetectContentType(w.Bytes())),
	})
	if err != nil {
		err = fmt.Errorf("could not upload %s: %w", w.loc, err)
	}
	return
}

func (s *S3FileSystem) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	loc, err := s.parsePath(name)
	if err != nil {
		return nil, err
	}
	if loc.key == "" {
		return nil, fmt.Errorf("cannot create %s: object key required", name)
	}
	return &objectWriter{ctx: ctx, client: s.client, loc: loc}, nil
}

// MkdirAll creates the bucket of p when it is missing. Keys need no parent.
func (s *S3FileSystem) MkdirAll(ctx context.Context, p string, _ fs.FileMode) (err error) {
	loc, err := s.parsePath(p)
	if err != nil {
		return
	}
	_, err = s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(loc.bucket)})
	if err == nil || !isNotFound(err) {
		return
	}
	logger.Info("creating bucket", slog.String("bucket", loc.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(loc.bucket)})
	var (
		exists *types.BucketAlreadyExists
		owned  *types.BucketAlreadyOwnedByYou
	)
	if errors.As(err, &exists) || errors.As(err, &owned) {
		err = nil
	}
	return
}

func (s *S3FileSystem) IsLocal() bool {
	return false
}

// Watch lists the objects under s3Path every MonitoringPeriod and reports the
// new and modified ones.
func (s *S3FileSystem) Watch(ctx context.Context, s3Path string) (Watcher, error) {
	return newS3Watcher(ctx, s, s3Path)
}

type s3Watcher struct {
	fsys   *S3FileSystem
	loc    location
	ctx    context.Context
	cancel context.CancelFunc
	events chan WatchEvent
	errs   chan error
	// stopped is closed once poll returned
	stopped chan struct{}
	// seen is only touched by the polling goroutine, and by tests
	seen map[string]objectInfo
}

func newS3Watcher(ctx context.Context, fsys *S3FileSystem, s3Path string) (w *s3Watcher, err error) {
	loc, err := fsys.parsePath(s3Path)
	if err != nil {
		return
	}
	if _, err = fsys.Stat(ctx, s3Path); err != nil {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w = &s3Watcher{
		fsys:    fsys,
		loc:     loc,
		ctx:     watchCtx,
		cancel:  cancel,
		events:  make(chan WatchEvent, 100),
		errs:    make(chan error, 10),
		stopped: make(chan struct{}),
	}
	if w.seen, err = w.list(); err != nil {
		cancel()
		w = nil
		return
	}
	go w.poll()
	return
}

// list returns the objects below the watched prefix by key.
func (w *s3Watcher) list() (objects map[string]objectInfo, err error) {
	objects = make(map[string]objectInfo)
	pages := s3.NewListObjectsV2Paginator(w.fsys.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(w.loc.bucket),
		Prefix: aws.String(w.loc.key),
	})
	for pages.HasMorePages() {
		page, pageErr := pages.NextPage(w.ctx)
		if pageErr != nil {
			err = fmt.Errorf("could not list %s: %w", w.loc, pageErr)
			return
		}
		for _, obj := range page.Contents {
			if info := fromObject(obj); !strings.HasSuffix(info.key, "/") {
				objects[info.key] = info
			}
		}
	}
	return
}

func (w *s3Watcher) poll() {
	defer close(w.stopped)
	defer close(w.events)
	defer close(w.errs)

	ticker := time.NewTicker(w.fsys.config.MonitoringPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.checkForChanges(); err != nil {
			select {
			case w.errs <- err:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

func (w *s3Watcher) checkForChanges() error {
	current, err := w.list()
	if err != nil {
		return err
	}
	previous := w.seen
	w.seen = current
	for key, info := range current {
		before, known := previous[key]
		switch {
		case !known:
			w.emit(WatchEventCreate, info)
		case info.size != before.size || info.modTime.After(before.modTime):
			w.emit(WatchEventWrite, info)
		}
	}
	return nil
}

func (w *s3Watcher) emit(t WatchEventType, info objectInfo) {
	select {
	case w.events <- WatchEvent{Path: w.loc.bucket + "/" + info.key, Type: t, Time: time.Now(), FileInfo: info}:
	case <-w.ctx.Done():
	}
}

func (w *s3Watcher) Events() <-chan WatchEvent {
	return w.events
}

func (w *s3Watcher) Errors() <-chan error {
	return w.errs
}

func (w *s3Watcher) Close() error {
	w.cancel()
	<-w.stopped
	return nil
}
