// Package backup exports a user's records to S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	sc "github.com/dmitrijs2005/finkeeper/internal/server/config"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// LinkValidity is how long a download link stays valid.
const LinkValidity = 15 * time.Minute

// Snapshotter returns every record of a user together with the server time
// the snapshot is consistent at.
type Snapshotter interface {
	Snapshot(ctx context.Context, userID string) (models.Batch, int64, error)
}

// Document is the stored backup.
type Document struct {
	UserID     string       `json:"user_id"`
	ServerTime int64        `json:"server_time"`
	ExportedAt time.Time    `json:"exported_at"`
	Records    models.Batch `json:"records"`
}

type Result struct {
	Key     string
	URL     string
	Records int
}

type Exporter struct {
	config *sc.Config
	src    Snapshotter
	now    func() time.Time
	logger logging.Logger
}

func NewExporter(cfg *sc.Config, src Snapshotter, l logging.Logger) *Exporter {
	if l == nil {
		l = logging.Nop{}
	}
	return &Exporter{config: cfg, src: src, now: time.Now, logger: l.With("module", "backup")}
}

// StorageKey places a backup under backups/<user>/<yyyy>/<mm>/<dd>/.
func StorageKey(userID string, t time.Time) string {
	return fmt.Sprintf("backups/%s/%04d/%02d/%02d/%v.json", url.PathEscape(userID), t.Year(), t.Month(), t.Day(), uuid.New())
}

func (e *Exporter) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(e.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			e.config.S3RootUser,
			e.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(e.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Export uploads a snapshot of userID and returns a presigned download link.
func (e *Exporter) Export(ctx context.Context, userID string) (*Result, error) {
	batch, serverTime, err := e.src.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if batch == nil {
		batch = models.Batch{}
	}

	now := e.now().UTC()
	body, err := json.Marshal(Document{UserID: userID, ServerTime: serverTime, ExportedAt: now, Records: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	client, err := e.client(ctx)
	if err != nil {
		return nil, err
	}

	bucket := e.config.S3Bucket
	key := StorageKey(userID, now)

	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return nil, fmt.Errorf("failed to upload backup: %w", err)
	}

	req, err := presignGetObject(s3.NewPresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(LinkValidity))
	if err != nil {
		return nil, fmt.Errorf("failed to presign backup link: %w", err)
	}

	e.logger.Info(ctx, "backup exported", "user", userID, "key", key, "records", batch.Len())
	return &Result{Key: key, URL: req.URL, Records: batch.Len()}, nil
}
