package rescache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MinioOptions configures the object storage backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// MinioBackend stores one JSON object per entry under
// <generation>/<sha256(key)>, so every put replaces a whole entry.
type MinioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioBackend creates a backend for opts. It does not contact the server;
// call EnsureBucket for that.
func NewMinioBackend(opts MinioOptions) (*MinioBackend, error) {
	logrus.WithFields(logrus.Fields{
		"endpoint":        opts.Endpoint,
		"bucket":          opts.Bucket,
		"accessKey_found": opts.AccessKey != "",
		"secretKey_found": opts.SecretKey != "",
	}).Debug("MinIO cache backend configuration")

	if opts.AccessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY or MINIO_ACCESS_KEY_ID is required for the minio cache backend")
	}
	if opts.SecretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY or MINIO_SECRET_ACCESS_KEY is required for the minio cache backend")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("a bucket is required for the minio cache backend")
	}

	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': %w (expected format: https://hostname:port)", opts.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT scheme '%s': must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': missing hostname", opts.Endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client for %s: %w", u.Host, err)
	}

	return &MinioBackend{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (b *MinioBackend) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
	}
	logrus.WithField("bucket", b.bucket).Info("Created resource cache bucket")
	return nil
}

// PutAll implements Backend. Objects written before a failure are removed
// again so a failed call leaves the generation as it was for new keys.
func (b *MinioBackend) PutAll(ctx context.Context, generation string, entries []Entry) error {
	written := make([]string, 0, len(entries))
	for _, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			b.removeQuietly(ctx, written)
			return fmt.Errorf("failed to encode %s: %w", e.Key, err)
		}

		name := objectName(generation, e.Key)
		if _, err := b.client.PutObject(ctx, b.bucket, name, bytes.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
			b.removeQuietly(ctx, written)
			return fmt.Errorf("failed to put object %s: %w", name, err)
		}
		written = append(written, name)
	}
	return nil
}

// Match implements Backend.
func (b *MinioBackend) Match(ctx context.Context, generation, key string) (Entry, error) {
	name := objectName(generation, key)
	object, err := b.client.GetObject(ctx, b.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get object %s: %w", name, err)
	}
	defer func() {
		_ = object.Close() // Close errors are not critical
	}()

	var e Entry
	if err := json.NewDecoder(object).Decode(&e); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Entry{}, ErrCacheMiss
		}
		return Entry{}, fmt.Errorf("failed to decode object %s: %w", name, err)
	}
	return e, nil
}

// Generations implements Backend.
func (b *MinioBackend) Generations(ctx context.Context) ([]string, error) {
	var generations []string
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Recursive: false}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list generations: %w", info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			generations = append(generations, strings.TrimSuffix(info.Key, "/"))
		}
	}
	sort.Strings(generations)
	return generations, nil
}

// DeleteGeneration implements Backend.
func (b *MinioBackend) DeleteGeneration(ctx context.Context, generation string) error {
	objects := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    generation + "/",
		Recursive: true,
	})
	for result := range b.client.RemoveObjects(ctx, b.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("failed to remove %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// activeObject sits at the bucket root, outside every generation prefix.
const activeObject = "active-generation"

// SetActive implements Backend.
func (b *MinioBackend) SetActive(ctx context.Context, generation string) error {
	if _, err := b.client.PutObject(ctx, b.bucket, activeObject, strings.NewReader(generation), int64(len(generation)),
		minio.PutObjectOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("failed to record active generation: %w", err)
	}
	return nil
}

// Active implements Backend.
func (b *MinioBackend) Active(ctx context.Context) (string, error) {
	object, err := b.client.GetObject(ctx, b.bucket, activeObject, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get object %s: %w", activeObject, err)
	}
	defer func() {
		_ = object.Close() // Close errors are not critical
	}()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", nil
		}
		return "", fmt.Errorf("failed to read object %s: %w", activeObject, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *MinioBackend) removeQuietly(ctx context.Context, names []string) {
	for _, name := range names {
		if err := b.client.RemoveObject(ctx, b.bucket, name, minio.RemoveObjectOptions{}); err != nil {
			logrus.WithError(err).WithField("object", name).Warn("Failed to remove partially written cache entry")
		}
	}
}

func objectName(generation, key string) string {
	sum := sha256.Sum256([]byte(key))
	return generation + "/" + hex.EncodeToString(sum[:])
}
