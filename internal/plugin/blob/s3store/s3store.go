package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rhplus0831/risugit/internal/config"
	registryblob "github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/rhplus0831/risugit/internal/tempfiles"
)

func init() {
	registryblob.Register(registryblob.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context, loc registryblob.Location) (registryblob.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob store: RISUGIT_S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 blob store: load AWS config: %w", err)
	}
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	prefix := loc.Prefix
	if prefix == "" {
		prefix = cfg.S3Prefix
	}
	return New(client, cfg.S3Bucket, prefix, cfg.ResolvedTempDir()), nil
}

// Store keeps blobs as objects under an optional key prefix. It is shared:
// every machine using the same bucket sees the same blobs.
type Store struct {
	client  *s3.Client
	bucket  string
	prefix  string
	tempDir string
}

// New returns a Store over an existing client.
func New(client *s3.Client, bucket, prefix, tempDir string) *Store {
	return &Store{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(strings.TrimSpace(prefix), "/"),
		tempDir: tempDir,
	}
}

func (s *Store) key(name string) string {
	if s.prefix != "" {
		return s.prefix + "/" + name
	}
	return name
}

func (s *Store) Put(ctx context.Context, name string, r io.Reader, contentType string) (*registryblob.PutResult, error) {
	key := s.key(name)
	counting := &countingWriter{h: sha256.New()}

	// PutObject needs a seekable body with a known length.
	tmp, err := tempfiles.Create(s.tempDir, "risugit-s3-upload-*")
	if err != nil {
		return nil, fmt.Errorf("s3 blob store: %w", err)
	}
	defer tempfiles.Discard(tmp)

	if _, err := io.Copy(tmp, io.TeeReader(r, counting)); err != nil {
		return nil, fmt.Errorf("s3 blob store: buffer upload stream: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("s3 blob store: rewind temp file: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          tmp,
		ContentLength: aws.Int64(counting.n),
		ContentType:   &contentType,
	}, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})
	if err != nil {
		return nil, fmt.Errorf("s3 blob store: put object: %w", err)
	}
	return &registryblob.PutResult{
		Name:   name,
		Size:   counting.n,
		SHA256: hex.EncodeToString(counting.h.Sum(nil)),
	}, nil
}

func (s *Store) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3 blob store: get %s: %w", name, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("s3 blob store: get object: %w", err)
	}
	return resp.Body, nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	key := s.key(name)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 blob store: head object: %w", err)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	key := s.key(name)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("s3 blob store: delete object: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: &s.bucket}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}
	var names []string
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store: list objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), aws.ToString(input.Prefix))
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Store) Shared() bool { return true }

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

type countingWriter struct {
	h hash.Hash
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return w.h.Write(p)
}

var _ registryblob.Store = (*Store)(nil)
