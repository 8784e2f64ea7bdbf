package artifact

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// RemoteCache is the optional S3 pull-through mirror for artifact
// archives described by the top-level cache key. It is never consulted
// for freshness — only as a fallback source when Consume can't find an
// archive locally, and as an extra upload target after Produce.
type RemoteCache struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewRemoteCache builds a client for the given bucket/region/prefix using
// the process's ambient AWS credentials (environment, shared config, or
// container/instance role), the same default chain every other consumer
// of aws-sdk-go-v2 in this codebase relies on.
func NewRemoteCache(ctx context.Context, bucket, prefix, region string) (*RemoteCache, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, bherrors.Config("failed to load AWS configuration: %s", err)
	}
	return &RemoteCache{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (r *RemoteCache) key(archiveName string) string {
	if r.prefix == "" {
		return archiveName
	}
	return r.prefix + "/" + archiveName
}

// Upload mirrors the archive at localPath (named archiveName) to S3.
func (r *RemoteCache) Upload(ctx context.Context, archiveName, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return bherrors.Artifact("", archiveName, "failed to open archive for remote upload: %s", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return bherrors.Artifact("", archiveName, "failed to stat archive for remote upload: %s", err)
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.key(archiveName)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return bherrors.Artifact("", archiveName, "failed to upload archive to s3://%s/%s: %s", r.bucket, r.key(archiveName), err)
	}
	return nil
}

// Download pulls archiveName from S3 into localPath, returning
// (false, nil) rather than an error when the object is simply absent —
// Consume's caller treats that the same as a local cache miss.
func (r *RemoteCache) Download(ctx context.Context, archiveName, localPath string) (bool, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(archiveName)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, bherrors.Artifact("", archiveName, "failed to download archive from s3://%s/%s: %s", r.bucket, r.key(archiveName), err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return false, bherrors.Artifact("", archiveName, "failed to create %s: %s", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return false, bherrors.Artifact("", archiveName, "failed to write %s: %s", localPath, err)
	}
	return true, nil
}

// isNoSuchKey unwraps err looking for an AWS API error exposing
// ErrorCode(), treating "NoSuchKey"/"NotFound" as a cache miss rather
// than a failure.
func isNoSuchKey(err error) bool {
	type errorCoder interface{ ErrorCode() string }
	for e := err; e != nil; {
		if c, ok := e.(errorCoder); ok {
			code := c.ErrorCode()
			return code == "NoSuchKey" || code == "NotFound"
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = unwrapper.Unwrap()
	}
	return false
}
