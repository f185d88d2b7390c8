package blob

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

type mockObject struct {
	data         []byte
	metadata     map[string]string
	storageClass s3types.StorageClass
	modified     time.Time
}

// mockS3 is an in-memory S3 implementation for testing. Objects are keyed by
// "bucket/key".
type mockS3 struct {
	mu       sync.RWMutex
	objects  map[string]*mockObject
	pageSize int
	copyErr  error
	headErr  error
	delErr   error
	lastCopy *s3.CopyObjectInput
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string]*mockObject), pageSize: 2}
}

func (m *mockS3) put(bucket, key string, data []byte, modified time.Time) {
	m.mu.Lock()
	m.objects[bucket+"/"+key] = &mockObject{data: data, modified: modified}
	m.mu.Unlock()
}

func (m *mockS3) get(bucket, key string) (*mockObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[bucket+"/"+key]
	return o, ok
}

func (m *mockS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	full := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Prefix)
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, full) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if params.ContinuationToken != nil {
		start, _ = strconv.Atoi(*params.ContinuationToken)
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, k := range keys[start:end] {
		o := m.objects[k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(strings.TrimPrefix(k, aws.ToString(params.Bucket)+"/")),
			LastModified: aws.Time(o.modified),
			Size:         aws.Int64(int64(len(o.data))),
		})
	}
	return out, nil
}

func (m *mockS3) CopyObject(_ context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if m.copyErr != nil {
		return nil, m.copyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCopy = params
	source, err := url.PathUnescape(aws.ToString(params.CopySource))
	if err != nil {
		return nil, err
	}
	src, ok := m.objects[source]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = &mockObject{
		data:         append([]byte(nil), src.data...),
		metadata:     params.Metadata,
		storageClass: params.StorageClass,
		modified:     time.Now(),
	}
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	o, ok := m.get(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.modified),
		Metadata:      o.metadata,
	}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	delete(m.objects, aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func testStorageConfig() config.StorageConfig {
	return config.StorageConfig{
		Backend: config.BackendS3,
		Hot:     config.TierLocation{Bucket: "docs", Prefix: "hot-documents"},
		Cool:    config.TierLocation{Bucket: "docs", Prefix: "documents", StorageClass: "STANDARD_IA"},
		Archive: config.TierLocation{Bucket: "docs-archive", StorageClass: "GLACIER_IR"},
	}
}

func newTestBlobStore(t *testing.T) (*Store, *mockS3) {
	t.Helper()
	mock := newMockS3()
	return NewStore(mock, testStorageConfig(), zap.NewNop()), mock
}

func TestListPagesThroughTier(t *testing.T) {
	store, mock := newTestBlobStore(t)
	modified := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"a.pdf", "b.pdf", "reports/c.pdf", "reports/"} {
		mock.put("docs", "documents/"+name, []byte("x"), modified)
	}
	mock.put("docs", "hot-documents/z.pdf", []byte("x"), modified)

	var names []string
	err := store.List(context.Background(), tier.TierCool, func(info tier.ObjectInfo) error {
		if info.Tier != tier.TierCool {
			t.Errorf("info tier = %s", info.Tier)
		}
		if !info.LastAccessedAt.Equal(modified) {
			t.Errorf("last accessed = %v, want %v", info.LastAccessedAt, modified)
		}
		names = append(names, info.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"a.pdf", "b.pdf", "reports/c.pdf"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestCopyMarksTarget(t *testing.T) {
	store, mock := newTestBlobStore(t)
	ctx := context.Background()
	mock.put("docs", "documents/q1 report.pdf", []byte("body"), time.Now().Add(-time.Hour))

	if err := store.Copy(ctx, tier.TierCool, tier.TierArchive, "q1 report.pdf"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if got := aws.ToString(mock.lastCopy.CopySource); got != "docs/documents/q1%20report.pdf" {
		t.Errorf("copy source = %q", got)
	}

	obj, ok := mock.get("docs-archive", "q1 report.pdf")
	if !ok {
		t.Fatal("copy target missing")
	}
	if obj.storageClass != s3types.StorageClassGlacierIr {
		t.Errorf("storage class = %s", obj.storageClass)
	}
	if obj.metadata[metaCopySource] != "cool" {
		t.Errorf("copy marker = %q", obj.metadata[metaCopySource])
	}
}

func TestCopyStatus(t *testing.T) {
	store, mock := newTestBlobStore(t)
	ctx := context.Background()
	mock.put("docs", "documents/a.pdf", []byte("body"), time.Now())

	st, err := store.CopyStatus(ctx, tier.TierCool, "a.pdf")
	if err != nil || st != tier.CopyNone {
		t.Fatalf("uploaded object status = %s, %v", st, err)
	}
	if err := store.Copy(ctx, tier.TierCool, tier.TierHot, "a.pdf"); err != nil {
		t.Fatal(err)
	}
	st, err = store.CopyStatus(ctx, tier.TierHot, "a.pdf")
	if err != nil || st != tier.CopySuccess {
		t.Fatalf("copied object status = %s, %v", st, err)
	}
	if _, err := store.CopyStatus(ctx, tier.TierArchive, "a.pdf"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCopyMissingSource(t *testing.T) {
	store, _ := newTestBlobStore(t)
	err := store.Copy(context.Background(), tier.TierHot, tier.TierCool, "ghost.pdf")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReportsMissing(t *testing.T) {
	store, mock := newTestBlobStore(t)
	ctx := context.Background()
	mock.put("docs-archive", "old.pdf", []byte("x"), time.Now())

	if err := store.Delete(ctx, tier.TierArchive, "old.pdf"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := mock.get("docs-archive", "old.pdf"); ok {
		t.Error("object still present after Delete")
	}
	if err := store.Delete(ctx, tier.TierArchive, "old.pdf"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	store, mock := newTestBlobStore(t)
	ctx := context.Background()
	mock.put("docs", "hot-documents/a.pdf", []byte("x"), time.Now())

	mock.copyErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	err := store.Copy(ctx, tier.TierHot, tier.TierCool, "a.pdf")
	if !errors.Is(err, types.ErrPermanent) || types.IsRetryable(err) {
		t.Errorf("AccessDenied should be permanent, got %v", err)
	}

	mock.copyErr = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce rate"}
	err = store.Copy(ctx, tier.TierHot, tier.TierCool, "a.pdf")
	if !errors.Is(err, types.ErrTransient) || !types.IsRetryable(err) {
		t.Errorf("SlowDown should be transient, got %v", err)
	}
}

func TestMissingBucketIsPermanent(t *testing.T) {
	store := NewStore(newMockS3(), config.StorageConfig{}, nil)
	err := store.List(context.Background(), tier.TierHot, func(tier.ObjectInfo) error { return nil })
	if !errors.Is(err, types.ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
}
