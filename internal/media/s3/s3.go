// Package s3 stores attachments in an Amazon S3 (or S3 compatible) bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog"

	"go-forum/internal/media"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// Needed by most S3 compatible servers such as MinIO.
	ForcePathStyle bool
}

type Handler struct {
	svc      *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// New connects to the bucket, creating it if it doesn't exist.
func New(ctx context.Context, conf Config, log zerolog.Logger) (*Handler, error) {
	if conf.Bucket == "" {
		return nil, errors.New("missing Bucket")
	}
	if conf.Region == "" {
		return nil, errors.New("missing Region")
	}

	awsConf := &aws.Config{
		Region:           aws.String(conf.Region),
		S3ForcePathStyle: aws.Bool(conf.ForcePathStyle || conf.Endpoint != ""),
	}
	if conf.Endpoint != "" {
		awsConf.Endpoint = aws.String(conf.Endpoint)
	}
	if conf.AccessKeyID != "" {
		awsConf.Credentials = credentials.NewStaticCredentials(conf.AccessKeyID, conf.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	h := &Handler{
		svc:    s3.New(sess),
		bucket: conf.Bucket,
		log:    log.With().Str("component", "media").Str("bucket", conf.Bucket).Logger(),
	}
	h.uploader = s3manager.NewUploaderWithClient(h.svc)

	if err := h.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) ensureBucket(ctx context.Context) error {
	_, err := h.svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(h.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("check bucket: %w", err)
	}

	_, err = h.svc.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(h.bucket)})
	if aerr, ok := err.(awserr.Error); ok {
		// Another node may have created it meanwhile.
		switch aerr.Code() {
		case s3.ErrCodeBucketAlreadyExists, s3.ErrCodeBucketAlreadyOwnedByYou, "OperationAborted":
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	h.log.Info().Msg("created bucket")
	return nil
}

func (h *Handler) Store(ctx context.Context, name, contentType string, r io.Reader) (media.Info, error) {
	ref := media.NewRef(name)
	if contentType == "" {
		contentType = media.ContentType(ref)
	}

	rc := &readerCounter{reader: r}
	_, err := h.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(ref),
		Body:        rc,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return media.Info{}, fmt.Errorf("upload %s: %w", ref, err)
	}

	h.log.Debug().Str("ref", ref).Int64("size", rc.count).Msg("finished upload")
	return media.Info{Ref: ref, Name: name, ContentType: contentType, Size: rc.count}, nil
}

func (h *Handler) Resolve(ctx context.Context, ref string) (io.ReadCloser, media.Info, error) {
	if !media.ValidRef(ref) {
		return nil, media.Info{}, media.ErrNotFound
	}

	out, err := h.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(ref),
	})
	if isNotFound(err) {
		return nil, media.Info{}, media.ErrNotFound
	}
	if err != nil {
		return nil, media.Info{}, err
	}

	info := media.Info{
		Ref:         ref,
		Name:        ref,
		ContentType: aws.StringValue(out.ContentType),
		Size:        aws.Int64Value(out.ContentLength),
	}
	if info.ContentType == "" {
		info.ContentType = media.ContentType(ref)
	}
	return out.Body, info, nil
}

func (h *Handler) Delete(ctx context.Context, ref string) error {
	if !media.ValidRef(ref) {
		return media.ErrNotFound
	}

	_, err := h.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(ref),
	})
	if isNotFound(err) {
		return media.ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = h.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(ref),
	})
	return err
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return true
	}
	return false
}

// readerCounter counts the bytes read through it.
type readerCounter struct {
	reader io.Reader
	count  int64
}

func (rc *readerCounter) Read(buf []byte) (int, error) {
	n, err := rc.reader.Read(buf)
	rc.count += int64(n)
	return n, err
}
