package s3

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/storekit-io/storekit"
)

func init() {
	storekit.RegisterBackend("s3", func(storageName string, cfg storekit.Config) (storekit.Backend, error) {
		bucket := cfg.Get("bucket")
		if bucket == "" {
			bucket = storageName
		}

		client, err := newClient(cfg)
		if err != nil {
			return nil, err
		}

		var opts []Option
		if prefix := cfg.Get("prefix"); prefix != "" {
			opts = append(opts, WithPrefix(prefix))
		}
		if raw := cfg.Get("presign_expiry"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, errors.New("invalid presign_expiry: " + raw)
			}
			opts = append(opts, WithPresignExpiry(d))
		}
		return New(client, bucket, opts...)
	})
}

func newClient(cfg storekit.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Get("region")),
	)
	if err != nil {
		return nil, err
	}

	if id, secret := cfg.Get("access_key_id"), cfg.Get("secret_access_key"); id != "" && secret != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(id, secret, "")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := cfg.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.Bool("force_path_style") {
			o.UsePathStyle = true
		}
	}), nil
}
