// Package storage writes listing images to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-admin/pkg/logging"
)

var tracer = otel.Tracer("clinicadmin.internal.storage")

// Kinds group objects under a hospital prefix.
const (
	KindHospital = "images"
	KindDoctor   = "doctors"
)

var (
	ErrNotConfigured   = errors.New("storage: bucket not configured")
	ErrTooLarge        = errors.New("storage: file exceeds upload limit")
	ErrUnsupportedType = errors.New("storage: unsupported image type")
	ErrEmptyFile       = errors.New("storage: empty file")
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Object is a stored image.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Options configures a Store.
type Options struct {
	Bucket        string
	PublicBaseURL string
	MaxBytes      int64
}

// Store uploads and deletes image objects.
type Store struct {
	client   S3API
	bucket   string
	baseURL  string
	maxBytes int64
	logger   *logging.Logger
	newID    func() string
}

func NewStore(client S3API, opts Options, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Store{
		client:   client,
		bucket:   opts.Bucket,
		baseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Enabled reports whether uploads can be served.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil && s.bucket != ""
}

// MaxBytes is the per-file upload limit.
func (s *Store) MaxBytes() int64 {
	if s == nil {
		return 0
	}
	return s.maxBytes
}

// PutImage validates and stores one image under hospitals/<id>/<kind>/.
// The content type is sniffed from the bytes; the client-declared type and
// filename extension are ignored.
func (s *Store) PutImage(ctx context.Context, hospitalID, kind string, body io.Reader) (*Object, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	mime := mimetype.Detect(data)
	contentType := mime.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := allowedTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := ObjectKey(hospitalID, kind, s.newID(), ext)

	ctx, span := tracer.Start(ctx, "storage.PutImage")
	defer span.End()
	span.SetAttributes(attribute.String("storage.key", key), attribute.Int("storage.size", len(data)))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put object failed")
		return nil, fmt.Errorf("storage: s3 put %s: %w", key, err)
	}

	s.logger.Debug("stored image", "key", key, "content_type", contentType, "size", len(data))
	return &Object{
		Key:         key,
		URL:         s.URL(key),
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// PutFile stores a multipart upload.
func (s *Store) PutFile(ctx context.Context, hospitalID, kind string, fh *multipart.FileHeader) (*Object, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	if fh.Size > s.MaxBytes() {
		return nil, ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("storage: open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()
	return s.PutImage(ctx, hospitalID, kind, f)
}

// Delete removes one object. An empty key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" || !s.Enabled() {
		return nil
	}
	ctx, span := tracer.Start(ctx, "storage.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("storage.key", key))

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete object failed")
		return fmt.Errorf("storage: s3 delete %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every key, attempting all of them before returning.
func (s *Store) DeleteAll(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete object", "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// URL returns the public URL of key.
func (s *Store) URL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

// StatusCode maps upload errors to HTTP status codes. It returns 0 for errors
// that did not originate from upload validation.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

// ObjectKey builds hospitals/<hospitalID>/<kind>/<id><ext>.
func ObjectKey(hospitalID, kind, id, ext string) string {
	return fmt.Sprintf("hospitals/%s/%s/%s%s", hospitalID, kind, id, ext)
}

// Tracker collects the keys written during one unit of work so they can be
// removed if that work fails.
type Tracker struct {
	store *Store
	keys  []string
}

func (s *Store) Track() *Tracker {
	return &Tracker{store: s}
}

func (t *Tracker) PutFile(ctx context.Context, hospitalID, kind string, fh *multipart.FileHeader) (*Object, error) {
	obj, err := t.store.PutFile(ctx, hospitalID, kind, fh)
	if err != nil {
		return nil, err
	}
	t.keys = append(t.keys, obj.Key)
	return obj, nil
}

// Keys returns the tracked keys.
func (t *Tracker) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Rollback deletes every tracked object. The context is detached from the
// caller's cancellation so a cancelled request still cleans up.
func (t *Tracker) Rollback(ctx context.Context) error {
	if len(t.keys) == 0 {
		return nil
	}
	err := t.store.DeleteAll(context.WithoutCancel(ctx), t.keys)
	t.keys = nil
	return err
}
