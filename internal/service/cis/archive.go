package cis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// S3Archiver writes each detector run to cold storage, one object per
// run, for audit and offline analysis.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(ctx context.Context, bucket, region string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "cis.aws_config", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// archivePayload is the JSON object stored per run.
type archivePayload struct {
	ClientID   string                     `json:"client_id"`
	ComputedAt time.Time                  `json:"computed_at"`
	Patterns   []domain.ConversionPattern `json:"patterns"`
}

func (a *S3Archiver) Archive(ctx context.Context, clientID string, patterns []domain.ConversionPattern) error {
	if len(patterns) == 0 {
		return nil
	}
	computedAt := patterns[0].ComputedAt
	key := fmt.Sprintf("patterns/%s/%s.json", clientID, computedAt.UTC().Format("2006-01-02T15-04-05"))

	body, err := json.Marshal(archivePayload{
		ClientID:   clientID,
		ComputedAt: computedAt,
		Patterns:   patterns,
	})
	if err != nil {
		return errs.Wrap(errs.Internal, "cis.archive_marshal", err)
	}

	contentType := "application/json"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return errs.Wrap(errs.ProviderTransient, "cis.archive_put", err)
	}
	return nil
}
