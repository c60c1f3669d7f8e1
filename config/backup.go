package config

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vecstore/blobstore"
	miniostore "github.com/hupe1980/vecstore/blobstore/minio"
	s3store "github.com/hupe1980/vecstore/blobstore/s3"
)

// Mirror kinds.
const (
	MirrorNone  = ""
	MirrorLocal = "local"
	MirrorMinIO = "minio"
	MirrorS3    = "s3"
)

// BackupConfig selects where backups are mirrored after they are written
// under backups/.
type BackupConfig struct {
	Mirror    string `yaml:"mirror"`
	LocalDir  string `yaml:"local_dir"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func (b BackupConfig) validate() error {
	switch b.Mirror {
	case MirrorNone:
	case MirrorLocal:
		if b.LocalDir == "" {
			return fmt.Errorf("backup mirror %q needs local_dir", b.Mirror)
		}
	case MirrorMinIO:
		if b.Endpoint == "" || b.Bucket == "" {
			return fmt.Errorf("backup mirror %q needs endpoint and bucket", b.Mirror)
		}
	case MirrorS3:
		if b.Bucket == "" {
			return fmt.Errorf("backup mirror %q needs bucket", b.Mirror)
		}
	default:
		return fmt.Errorf("unknown backup mirror %q", b.Mirror)
	}
	return nil
}

// OpenMirror connects the configured mirror. It returns nil when no mirror
// is configured.
func (b BackupConfig) OpenMirror(ctx context.Context) (blobstore.Store, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	switch b.Mirror {
	case MirrorLocal:
		return blobstore.NewLocalStore(b.LocalDir), nil
	case MirrorMinIO:
		client, err := minio.New(b.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(b.AccessKey, b.SecretKey, ""),
			Secure: b.UseSSL,
			Region: b.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return miniostore.NewStore(client, b.Bucket, b.Prefix), nil
	case MirrorS3:
		var opts []s3store.Option
		if b.Prefix != "" {
			opts = append(opts, s3store.WithPrefix(b.Prefix))
		}
		if b.Region != "" {
			opts = append(opts, s3store.WithRegion(b.Region))
		}
		st, err := s3store.New(ctx, b.Bucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return st, nil
	}
	return nil, nil
}
