package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/seamline-io/conveyor/types"
)

const s3Scheme = "s3://"

// s3API is the slice of the S3 client the store uses. Narrowed for tests.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 is an object-store artifact backend. Keys mirror the filesystem layout
// under an optional prefix:
//
//	<prefix>/date=<run_date>/stage=<stage>/<name>
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// OpenS3 builds an S3 store from the ambient AWS configuration (environment,
// shared config, instance role).
func OpenS3(ctx context.Context, bucket, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("artifact: s3 store requires a bucket")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3 wraps an existing client. Used by tests to inject a fake.
func NewS3(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Put implements Store.
func (s *S3) Put(ctx context.Context, date types.RunDate, stage types.Stage, name string, data []byte) (types.ArtifactRef, error) {
	if err := validateAddress(date, stage, name); err != nil {
		return "", err
	}
	key := s.key(date, stage, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: put s3://%s/%s: %w", s.bucket, key, err)
	}
	return types.ArtifactRef(s3Scheme + s.bucket + "/" + key), nil
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, ref types.ArtifactRef) ([]byte, error) {
	bucket, key, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("artifact: get %s: %w", ref, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", ref, err)
	}
	return data, nil
}

// Exists implements Store.
func (s *S3) Exists(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	bucket, key, err := s.resolve(ref)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("artifact: head %s: %w", ref, err)
	}
	return true, nil
}

// List implements Store.
func (s *S3) List(ctx context.Context, date types.RunDate) ([]types.ArtifactRef, error) {
	prefix := s.key(date, "", "")
	var refs []types.ArtifactRef
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("artifact: list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			refs = append(refs, types.ArtifactRef(s3Scheme+s.bucket+"/"+aws.ToString(obj.Key)))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// Close implements Store.
func (s *S3) Close() error { return nil }

func (s *S3) key(date types.RunDate, stage types.Stage, name string) string {
	parts := []string{"date=" + string(date)}
	if stage != "" {
		parts = append(parts, "stage="+string(stage))
	}
	if name != "" {
		parts = append(parts, name)
	}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3) resolve(ref types.ArtifactRef) (string, string, error) {
	rest, ok := strings.CutPrefix(string(ref), s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("artifact: ref %q is not object-addressed", ref)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("artifact: malformed object ref %q", ref)
	}
	return bucket, key, nil
}

var _ Store = (*S3)(nil)
