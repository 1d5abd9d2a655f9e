package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/blobrouter/internal/logging"
)

// fakeS3 is an in-memory implementation of the api subset the router
// uses, with optional error injection per operation.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]fakeObject

	putErr    error
	getErr    error
	listErr   error
	deleteErr error
	copyErr   error
	headErr   error
}

type fakeObject struct {
	data         []byte
	lastModified time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: make(map[string]map[string]fakeObject)}
}

func (f *fakeS3) bucket(name string) map[string]fakeObject {
	if _, ok := f.buckets[name]; !ok {
		f.buckets[name] = make(map[string]fakeObject)
	}
	return f.buckets[name]
}

func (f *fakeS3) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket(bucket)[key] = fakeObject{data: data, lastModified: time.Now()}
}

func (f *fakeS3) has(bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bucket(bucket)[key]
	return ok
}

func (f *fakeS3) keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.bucket(bucket) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var contents []types.Object
	for _, key := range sortedKeysLocked(f.bucket(aws.ToString(params.Bucket))) {
		obj := f.bucket(aws.ToString(params.Bucket))[key]
		contents = append(contents, types.Object{
			Key:          aws.String(key),
			LastModified: aws.Time(obj.lastModified),
		})
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func sortedKeysLocked(bucket map[string]fakeObject) []string {
	var keys []string
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.bucket(aws.ToString(params.Bucket))[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := f.bucket(aws.ToString(params.Bucket))
	key := aws.ToString(params.Key)

	if params.IfNoneMatch != nil {
		if _, exists := bucket[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object already exists"}
		}
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	bucket[key] = fakeObject{data: data, lastModified: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.bucket(aws.ToString(params.Bucket)), aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	source, err := url.PathUnescape(aws.ToString(params.CopySource))
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(source, "/", 2)
	obj, ok := f.bucket(parts[0])[parts[1]]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.bucket(aws.ToString(params.Bucket))[aws.ToString(params.Key)] = fakeObject{data: obj.data, lastModified: time.Now()}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.bucket(aws.ToString(params.Bucket))[aws.ToString(params.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newFakeClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	return NewClient(fake, discardLogger()), fake
}
