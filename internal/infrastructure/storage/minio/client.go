package minio

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/DDI-Intelligence/internal/config"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

const connectTimeout = 10 * time.Second

// ObjectAPI is the subset of *minio.Client the artifact store needs.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Client reads and publishes model artifacts under a bucket prefix. It
// satisfies deepddi.ArtifactSource.
type Client struct {
	api    ObjectAPI
	bucket string
	prefix string
	logger logging.Logger
}

// NewClient connects to cfg.Endpoint and checks that the bucket exists.
func NewClient(cfg *config.MinIOConfig, prefix string, log logging.Logger) (*Client, error) {
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "create minio client")
	}
	c := NewClientWithAPI(api, cfg.Bucket, prefix, log)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.checkBucket(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("minio client connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api ObjectAPI, bucket, prefix string, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{api: api, bucket: bucket, prefix: prefix, logger: log.Named("minio")}
}

func (c *Client) checkBucket(ctx context.Context) error {
	ok, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "connect to minio")
	}
	if !ok {
		return errors.NotFound("artifact bucket does not exist").WithDetailf("bucket=%s", c.bucket)
	}
	return nil
}

// ObjectKey maps an artifact name to its object key.
func (c *Client) ObjectKey(name string) string {
	return path.Join(c.prefix, name)
}

// Open streams the named artifact. A missing object is ArtifactNotLoaded.
func (c *Client) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := c.ObjectKey(name)
	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.classify(err, name, key)
	}
	// The request is issued lazily; Stat surfaces a missing key here
	// instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, c.classify(err, name, key)
	}
	c.logger.Debug("artifact opened", logging.String("key", key))
	return obj, nil
}

// Put uploads an artifact of known size.
func (c *Client) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	key := c.ObjectKey(name)
	info, err := c.api.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "upload artifact").
			WithDetailf("bucket=%s key=%s", c.bucket, key)
	}
	c.logger.Info("artifact uploaded",
		logging.String("key", key),
		logging.Int64("size", info.Size),
		logging.String("etag", info.ETag))
	return nil
}

// UploadFile uploads a local file under name.
func (c *Client) UploadFile(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "open artifact file").WithDetailf("path=%q", localPath)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "stat artifact file").WithDetailf("path=%q", localPath)
	}
	return c.Put(ctx, name, f, st.Size())
}

func (c *Client) classify(err error, name, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return errors.ArtifactNotLoaded(name).WithCause(err).WithDetailf("bucket=%s key=%s", c.bucket, key)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, "read artifact").
		WithDetailf("bucket=%s key=%s", c.bucket, key)
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
