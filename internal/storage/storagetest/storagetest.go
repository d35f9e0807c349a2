// Package storagetest provides an in-memory S3 double and multipart helpers
// for handler and service tests.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/clinic-admin/internal/storage"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// PNG is the smallest byte sequence sniffed as image/png.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// FakeS3 keeps objects in memory.
type FakeS3 struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string
	PutErr  error
}

func NewFakeS3() *FakeS3 {
	return &FakeS3{Objects: map[string][]byte{}}
}

func (f *FakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	if in.Key == nil {
		return nil, errors.New("missing key")
	}
	data, _ := io.ReadAll(in.Body)
	f.Objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Objects, *in.Key)
	f.Deleted = append(f.Deleted, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

// Keys returns the stored keys in sorted order.
func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.Objects))
	for k := range f.Objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewStore returns a Store backed by a fresh FakeS3.
func NewStore() (*storage.Store, *FakeS3) {
	fake := NewFakeS3()
	store := storage.NewStore(fake, storage.Options{
		Bucket:        "test-bucket",
		PublicBaseURL: "https://cdn.test",
		MaxBytes:      1 << 20,
	}, logging.Discard())
	return store, fake
}

// Part is one multipart form part.
type Part struct {
	Field    string
	Filename string
	Data     []byte
	Value    string
}

// MultipartBody encodes parts and returns the body and content type.
func MultipartBody(t *testing.T, parts ...Part) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.Filename == "" {
			if err := mw.WriteField(p.Field, p.Value); err != nil {
				t.Fatalf("write field %s: %v", p.Field, err)
			}
			continue
		}
		fw, err := mw.CreateFormFile(p.Field, p.Filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(p.Data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

// MultipartRequest builds a request carrying parts.
func MultipartRequest(t *testing.T, method, target string, parts ...Part) *http.Request {
	t.Helper()
	body, contentType := MultipartBody(t, parts...)
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

// FileHeader returns a parsed upload for field.
func FileHeader(t *testing.T, field, filename string, data []byte) *multipart.FileHeader {
	t.Helper()
	req := MultipartRequest(t, http.MethodPost, "/", Part{Field: field, Filename: filename, Data: data})
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse multipart: %v", err)
	}
	return req.MultipartForm.File[field][0]
}
