package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"go.uber.org/zap"
)

// Object metadata written on every copy. A target carrying metaCopySource is
// a completed copy.
const (
	metaCopySource = "dt-copy-source"
	metaCopiedAt   = "dt-copied-at"
)

// Store implements tier.BlobStore for S3-compatible object storage. Each tier
// is a bucket and key prefix; a document's name is its key below the prefix.
type Store struct {
	s3        S3API
	locations map[tier.Tier]config.TierLocation
	logger    *zap.Logger
}

// NewStore creates a blob store using an S3API implementation.
func NewStore(s3api S3API, cfg config.StorageConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	locs := make(map[tier.Tier]config.TierLocation, len(types.AllTiers))
	for _, t := range types.AllTiers {
		locs[t] = cfg.Location(t)
	}
	return &Store{s3: s3api, locations: locs, logger: logger.Named("s3")}
}

func (s *Store) location(t tier.Tier) (config.TierLocation, error) {
	loc, ok := s.locations[t]
	if !ok || loc.Bucket == "" {
		return loc, fmt.Errorf("%w: no bucket for tier %s", types.ErrPermanent, t)
	}
	return loc, nil
}

func keyPrefix(loc config.TierLocation) string {
	p := strings.Trim(loc.Prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func objectKey(loc config.TierLocation, name string) string {
	return keyPrefix(loc) + name
}

// copySource escapes each key segment but keeps the separators.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func (s *Store) List(ctx context.Context, t tier.Tier, fn func(tier.ObjectInfo) error) error {
	loc, err := s.location(t)
	if err != nil {
		return err
	}
	prefix := keyPrefix(loc)

	p := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return s.classify("list", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			// Skip folder placeholders some consoles create.
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			info := tier.ObjectInfo{
				Name:           name,
				Tier:           t,
				LastAccessedAt: aws.ToTime(obj.LastModified),
				SizeBytes:      aws.ToInt64(obj.Size),
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// Copy issues a server-side CopyObject into the target tier's bucket with the
// target storage class. The source's user metadata is carried over.
func (s *Store) Copy(ctx context.Context, from, to tier.Tier, key string) error {
	src, err := s.location(from)
	if err != nil {
		return err
	}
	dst, err := s.location(to)
	if err != nil {
		return err
	}
	srcKey := objectKey(src, key)

	head, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return s.classify("copy", err)
	}

	meta := make(map[string]string, len(head.Metadata)+2)
	for k, v := range head.Metadata {
		meta[k] = v
	}
	meta[metaCopySource] = from.String()
	meta[metaCopiedAt] = time.Now().UTC().Format(time.RFC3339)

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(dst.Bucket),
		Key:               aws.String(objectKey(dst, key)),
		CopySource:        aws.String(copySource(src.Bucket, srcKey)),
		MetadataDirective: s3types.MetadataDirectiveReplace,
		Metadata:          meta,
		ContentType:       head.ContentType,
	}
	if dst.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(dst.StorageClass)
	}

	if _, err := s.s3.CopyObject(ctx, input); err != nil {
		return s.classify("copy", err)
	}
	s.logger.Debug("copied object",
		zap.String("document", key),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return nil
}

// CopyStatus reports CopySuccess for an object written by Copy and CopyNone for
// one that was uploaded directly. CopyObject is synchronous, so S3 never
// reports a pending copy.
func (s *Store) CopyStatus(ctx context.Context, t tier.Tier, key string) (tier.CopyStatus, error) {
	loc, err := s.location(t)
	if err != nil {
		return tier.CopyNone, err
	}
	head, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(objectKey(loc, key)),
	})
	if err != nil {
		return tier.CopyNone, s.classify("status", err)
	}
	if _, ok := head.Metadata[metaCopySource]; ok {
		return tier.CopySuccess, nil
	}
	return tier.CopyNone, nil
}

// Delete removes key from tier t. S3 deletes are silent for missing keys, so
// the object is checked first to report ErrNotFound.
func (s *Store) Delete(ctx context.Context, t tier.Tier, key string) error {
	loc, err := s.location(t)
	if err != nil {
		return err
	}
	k := objectKey(loc, key)
	if _, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(k),
	}); err != nil {
		return s.classify("delete", err)
	}
	if _, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(k),
	}); err != nil {
		return s.classify("delete", err)
	}
	return nil
}

// permanentCodes are S3 error codes that retrying will not fix.
var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidObjectState":    true,
	"InvalidStorageClass":   true,
	"InvalidRequest":        true,
	"InvalidArgument":       true,
}

// classify maps an S3 error onto the shared sentinels and counts it.
func (s *Store) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := "unknown"
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	if isNotFound(err) {
		metrics.S3Errors.WithLabelValues(op, "not_found").Inc()
		return fmt.Errorf("s3 %s: %w", op, types.ErrNotFound)
	}
	metrics.S3Errors.WithLabelValues(op, code).Inc()
	if permanentCodes[code] {
		return fmt.Errorf("s3 %s: %w: %w", op, types.ErrPermanent, err)
	}
	return fmt.Errorf("s3 %s: %w: %w", op, types.ErrTransient, err)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
