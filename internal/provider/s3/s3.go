// Package s3 is the S3 (and S3-compatible) GenericDrive. Paths are keys
// below a bucket prefix. S3 has no cheap content hash that survives
// multipart uploads, so verification compares object sizes.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"

	"github.com/windsync/wind/internal/provider"
)

// Name identifies the provider in logs and endpoint syntax.
const Name = "s3"

// API is the subset of the S3 client the provider calls.
type API interface {
	awss3.ListObjectsV2APIClient
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Config selects credentials and the endpoint for NewFromConfig.
type Config struct {
	Region    string
	Profile   string
	Endpoint  string
	PathStyle bool
}

// Provider implements provider.Provider on one bucket prefix.
type Provider struct {
	client   API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates a provider over client for bucket/prefix.
func New(client API, bucket, prefix string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Provider{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		logger:   logger,
	}
}

// NewFromConfig loads the default AWS credential chain and builds a client.
// SDK-level retries are disabled: the transfer engine owns retrying.
func NewFromConfig(ctx context.Context, cfg Config, bucket, prefix string, logger *slog.Logger) (*Provider, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMaxAttempts(1)}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.PathStyle
	})

	return New(client, bucket, prefix, logger), nil
}

func (p *Provider) Name() string { return Name }

// key maps a provider path to an object key.
func (p *Provider) key(fpath string) string {
	rel := strings.TrimPrefix(provider.CleanPath(fpath), "/")

	switch {
	case p.prefix == "":
		return rel
	case rel == "":
		return p.prefix
	default:
		return p.prefix + "/" + rel
	}
}

// pathOf maps an object key back to a provider path.
func (p *Provider) pathOf(key string) string {
	if p.prefix != "" {
		key = strings.TrimPrefix(key, p.prefix+"/")
	}

	return provider.CleanPath(key)
}

// List pages through every object under root.
func (p *Provider) List(ctx context.Context, root string, visit provider.VisitFunc) error {
	prefix := p.key(root)
	if prefix != "" {
		prefix += "/"
	}

	paginator := awss3.NewListObjectsV2Paginator(p.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: listing %s: %w", root, classify(err))
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}

			fpath := p.pathOf(key)

			err := visit(provider.FileRecord{
				RemoteID: key,
				Path:     fpath,
				Name:     path.Base(fpath),
				Size:     aws.ToInt64(obj.Size),
				ModTime:  aws.ToTime(obj.LastModified),
			})
			if errors.Is(err, provider.ErrStopList) {
				return nil
			}

			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Stat reads object metadata.
func (p *Provider) Stat(ctx context.Context, fpath string) (provider.FileRecord, error) {
	key := p.key(fpath)

	out, err := p.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return provider.FileRecord{}, fmt.Errorf("s3: stat %s: %w", fpath, classify(err))
	}

	cleaned := provider.CleanPath(fpath)

	return provider.FileRecord{
		RemoteID: key,
		Path:     cleaned,
		Name:     path.Base(cleaned),
		Size:     aws.ToInt64(out.ContentLength),
		ModTime:  aws.ToTime(out.LastModified),
		MimeType: aws.ToString(out.ContentType),
	}, nil
}

// Download streams the object body.
func (p *Provider) Download(ctx context.Context, rec provider.FileRecord, w io.Writer) (int64, error) {
	key := rec.RemoteID
	if key == "" {
		key = p.key(rec.Path)
	}

	out, err := p.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("s3: downloading %s: %w", key, classify(err))
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, provider.NetworkError("s3: reading "+key, err)
	}

	return n, nil
}

// Upload writes the object with the upload manager, which switches to
// multipart for large files. PUT always replaces, so Overwrite needs no
// special handling.
func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) (provider.UploadResult, error) {
	key := p.key(req.DestPath)

	f, err := os.Open(req.LocalPath)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("s3: opening staged file: %w", err)
	}
	defer f.Close()

	in := &awss3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	}

	if ct := contentType(req); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := p.uploader.Upload(ctx, in); err != nil {
		return provider.UploadResult{}, fmt.Errorf("s3: uploading %s: %w", key, classify(err))
	}

	p.logger.Debug("object uploaded", slog.String("bucket", p.bucket), slog.String("key", key))

	return provider.UploadResult{RemoteID: key}, nil
}

func contentType(req provider.UploadRequest) string {
	if req.Source.MimeType != "" {
		return req.Source.MimeType
	}

	m, err := mimetype.DetectFile(req.LocalPath)
	if err != nil {
		return ""
	}

	return m.String()
}

// Verify reads the stored object's size.
func (p *Provider) Verify(ctx context.Context, remoteID string) (provider.Token, error) {
	out, err := p.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(remoteID),
	})
	if err != nil {
		return provider.Token{}, fmt.Errorf("s3: verifying %s: %w", remoteID, classify(err))
	}

	return provider.SizeToken(aws.ToInt64(out.ContentLength)), nil
}

// Expect is the local file's size.
func (p *Provider) Expect(localPath string) (provider.Token, error) {
	size, err := provider.FileSize(localPath)
	if err != nil {
		return provider.Token{}, err
	}

	return provider.SizeToken(size), nil
}

// Delete removes the object.
func (p *Provider) Delete(ctx context.Context, rec provider.FileRecord) error {
	key := rec.RemoteID
	if key == "" {
		key = p.key(rec.Path)
	}

	if _, err := p.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3: deleting %s: %w", key, classify(err))
	}

	return nil
}

// classify maps SDK errors onto the provider taxonomy. Error codes win over
// HTTP statuses since HEAD responses carry no body.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
	}

	var sentinel error

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			sentinel = provider.ErrNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			sentinel = provider.ErrAuth
		case "SlowDown", "Throttling", "TooManyRequests":
			sentinel = provider.ErrRateLimited
		case "RequestTimeout", "RequestTimeoutException", "ServiceUnavailable", "InternalError":
			sentinel = provider.ErrNetwork
		}
	}

	if sentinel == nil && status != 0 {
		sentinel = provider.ClassifyStatus(status)
	}

	switch {
	case errors.Is(sentinel, provider.ErrRateLimited):
		return &provider.APIError{
			Provider:   Name,
			StatusCode: status,
			Message:    err.Error(),
			Err:        &provider.RateLimitError{Message: err.Error()},
		}
	case sentinel != nil:
		return &provider.APIError{Provider: Name, StatusCode: status, Message: err.Error(), Err: sentinel}
	case status == 0 && apiErr == nil:
		return provider.NetworkError("s3", err)
	default:
		return err
	}
}
