package storage

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/config"
	"github.com/NicoZweifel/aquila/pkg/storeerr"
)

// uploadLockTTL bounds how long one uploader can hold the create-vs-exists
// lock for a given path before it is presumed dead and released.
const uploadLockTTL = 30 * time.Second

// S3Driver stores blobs and manifests in a MinIO/S3-compatible bucket,
// coordinating concurrent writes to the same path through a Redis lock so
// that two simultaneous uploads of identical content each observe a
// well-defined outcome rather than racing (spec §5, §9 open question (c)).
type S3Driver struct {
	client          *minio.Client
	bucket          string
	redis           *redis.Client
	log             *logrus.Logger
	redirectEnabled bool
}

func NewS3Driver(cfg *config.Config, rdb *redis.Client, log *logrus.Logger) (*S3Driver, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioUser, cfg.MinioPass, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, storeerr.Wrap(storeerr.System, "construct minio client", err)
	}

	ctx := context.Background()
	if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := client.BucketExists(ctx, cfg.MinioBucket)
		if existsErr != nil || !exists {
			return nil, storeerr.Wrap(storeerr.System, "ensure bucket exists", err)
		}
	}

	return &S3Driver{
		client:          client,
		bucket:          cfg.MinioBucket,
		redis:           rdb,
		log:             log,
		redirectEnabled: cfg.EnableRedirectDownload,
	}, nil
}

func (d *S3Driver) Exists(ctx context.Context, path string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, storeerr.Wrap(storeerr.Io, "stat object", err)
	}
	return true, nil
}

func (d *S3Driver) Write(ctx context.Context, path string, r io.Reader, sizeHint int64) (WriteOutcome, error) {
	if exists, err := d.Exists(ctx, path); err != nil {
		return 0, err
	} else if exists {
		return Existed, nil
	}

	lockKey := "aquila:upload-lock:" + path
	acquired, err := d.redis.SetNX(ctx, lockKey, "1", uploadLockTTL).Result()
	if err != nil {
		return 0, storeerr.Wrap(storeerr.System, "acquire upload lock", err)
	}
	if !acquired {
		if err := d.waitForUnlock(ctx, lockKey); err != nil {
			return 0, err
		}
		if exists, err := d.Exists(ctx, path); err != nil {
			return 0, err
		} else if !exists {
			return 0, storeerr.New(storeerr.System, "concurrent upload did not commit: "+path)
		}
		return Existed, nil
	}
	defer d.redis.Del(ctx, lockKey)

	// Re-check now that the lock is held, in case the other writer
	// committed between our first Exists call and acquiring the lock.
	if exists, err := d.Exists(ctx, path); err != nil {
		return 0, err
	} else if exists {
		return Existed, nil
	}

	size := sizeHint
	if size < 0 {
		size = -1
	}
	if _, err := d.client.PutObject(ctx, d.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return 0, storeerr.Wrap(storeerr.Io, "put object", err)
	}
	return Created, nil
}

func (d *S3Driver) waitForUnlock(ctx context.Context, lockKey string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(uploadLockTTL)
	for {
		select {
		case <-ctx.Done():
			return storeerr.Wrap(storeerr.System, "wait for concurrent upload", ctx.Err())
		case <-ticker.C:
			n, err := d.redis.Exists(ctx, lockKey).Result()
			if err != nil {
				return storeerr.Wrap(storeerr.System, "poll upload lock", err)
			}
			if n == 0 {
				return nil
			}
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}

func (d *S3Driver) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if exists, err := d.Exists(ctx, path); err != nil {
		return nil, err
	} else if !exists {
		return nil, storeerr.New(storeerr.NotFound, "object not found: "+path)
	}
	obj, err := d.client.GetObject(ctx, d.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, storeerr.Wrap(storeerr.Io, "get object", err)
	}
	return obj, nil
}

func (d *S3Driver) Delete(ctx context.Context, path string) error {
	if err := d.client.RemoveObject(ctx, d.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return storeerr.Wrap(storeerr.Io, "remove object", err)
	}
	return nil
}

func (d *S3Driver) RedirectURL(ctx context.Context, path string, expiry time.Duration) (string, bool, error) {
	if !d.redirectEnabled {
		return "", false, nil
	}
	u, err := d.client.PresignedGetObject(ctx, d.bucket, path, expiry, nil)
	if err != nil {
		return "", false, storeerr.Wrap(storeerr.System, "presign get object", err)
	}
	return u.String(), true, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
