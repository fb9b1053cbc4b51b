package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory S3API with a small list page size so pagination
// is exercised.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeS3Object
	pageSize int

	failKeys     map[string]string // key -> error code reported by DeleteObjects
	getErr       error
	deleteErr    error
	deleteCalls  []int
	deleteQuiet  []bool
	listRequests int
}

type fakeS3Object struct {
	body     []byte
	metadata map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeS3Object), pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeS3Object{body: body, metadata: copyMetadata(in.Metadata)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.body)),
		Metadata: copyMetadata(obj.metadata),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: copyMetadata(obj.metadata)}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, len(in.Delete.Objects))
	f.deleteQuiet = append(f.deleteQuiet, aws.ToBool(in.Delete.Quiet))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if code, ok := f.failKeys[key]; ok {
			out.Errors = append(out.Errors, types.Error{
				Key:     aws.String(key),
				Code:    aws.String(code),
				Message: aws.String("injected failure"),
			})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listRequests++

	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		// Resume after the last key of the previous page.
		start = sort.SearchStrings(keys, tok)
		if start < len(keys) && keys[start] == tok {
			start++
		}
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{KeyCount: aws.Int32(int32(end - start))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end-1])
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestS3StorePutGetHead(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreFromClient(fake, "bucket")
	ctx := context.Background()

	md := map[string]string{"expires_at": "1700000300"}
	require.NoError(t, store.Put(ctx, "k", []byte("value ✓"), md))

	obj, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "value ✓", string(obj.Body))
	assert.Equal(t, md, obj.Metadata)

	head, err := store.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, md, head)

	_, err = store.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))
	_, err = store.Head(ctx, "missing")
	assert.True(t, IsNotFound(err))

	assert.Equal(t, "bucket", store.Bucket())
	assert.NoError(t, store.Close())
}

func TestS3StoreGetClassifiesErrors(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
	store := NewS3StoreFromClient(fake, "bucket")

	_, err := store.Get(context.Background(), "k")
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsNotFound(err))
}

func TestS3StoreDeleteBatchChunks(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreFromClient(fake, "bucket")
	ctx := context.Background()

	keys := make([]string, 2500)
	for i := range keys {
		keys[i] = "k" + strconv.Itoa(i)
		fake.objects[keys[i]] = fakeS3Object{body: []byte("v")}
	}

	errs, err := store.DeleteBatch(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Empty(t, fake.keys())

	calls := append([]int(nil), fake.deleteCalls...)
	sort.Ints(calls)
	assert.Equal(t, []int{500, 1000, 1000}, calls)
	for _, quiet := range fake.deleteQuiet {
		assert.True(t, quiet)
	}
}

func TestS3StoreDeleteBatchEmpty(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreFromClient(fake, "bucket")

	errs, err := store.DeleteBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, errs)
	assert.Empty(t, fake.deleteCalls)
}

func TestS3StoreDeleteBatchPerKeyErrors(t *testing.T) {
	fake := newFakeS3()
	fake.failKeys = map[string]string{"b": "AccessDenied"}
	store := NewS3StoreFromClient(fake, "bucket")
	for _, k := range []string{"a", "b", "c"} {
		fake.objects[k] = fakeS3Object{}
	}

	errs, err := store.DeleteBatch(context.Background(), []string{"a", "b", "c", "missing"})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, DeleteError{Key: "b", Code: "AccessDenied", Message: "injected failure"}, errs[0])
	assert.Equal(t, []string{"b"}, fake.keys())
}

func TestS3StoreDeleteBatchRequestError(t *testing.T) {
	fake := newFakeS3()
	fake.deleteErr = &smithy.GenericAPIError{Code: "MalformedXML", Message: "bad request"}
	store := NewS3StoreFromClient(fake, "bucket")

	_, err := store.DeleteBatch(context.Background(), []string{"a"})
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "MalformedXML", ce.Code)
}

func TestS3StoreDeletePrefix(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreFromClient(fake, "bucket")
	for _, k := range []string{"p/1", "p/2", "p/3", "p/4", "p/5", "q/1", "p"} {
		fake.objects[k] = fakeS3Object{}
	}

	require.NoError(t, store.DeletePrefix(context.Background(), "p/"))
	assert.Equal(t, []string{"p", "q/1"}, fake.keys())
	assert.Equal(t, 3, fake.listRequests, "five keys over pages of two")
}

func TestS3StoreDeletePrefixEmptyClearsBucket(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreFromClient(fake, "bucket")
	for _, k := range []string{"a", "b", "c"} {
		fake.objects[k] = fakeS3Object{}
	}

	require.NoError(t, store.DeletePrefix(context.Background(), ""))
	assert.Empty(t, fake.keys())
}

func TestS3StoreDeletePrefixPartialFailure(t *testing.T) {
	fake := newFakeS3()
	fake.failKeys = map[string]string{"p/2": "InternalError"}
	store := NewS3StoreFromClient(fake, "bucket")
	for _, k := range []string{"p/1", "p/2"} {
		fake.objects[k] = fakeS3Object{}
	}

	err := store.DeletePrefix(context.Background(), "p/")
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "InternalError", ce.Code)
	assert.Contains(t, ce.Message, "1 of 2 objects not deleted")
}

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      fmt.Errorf("http %d", status),
		},
	}
}

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		notFound     bool
		unauthorized bool
		code         string
	}{
		{name: "no such key", err: &types.NoSuchKey{}, notFound: true},
		{name: "head not found", err: &types.NotFound{}, notFound: true},
		{name: "no such bucket", err: &types.NoSuchBucket{}, unauthorized: true},
		{name: "generic no such key", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, notFound: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}, unauthorized: true},
		{name: "bad signature", err: &smithy.GenericAPIError{Code: "SignatureDoesNotMatch"}, unauthorized: true},
		{name: "status 404", err: responseError(http.StatusNotFound), notFound: true},
		{name: "status 403", err: responseError(http.StatusForbidden), unauthorized: true},
		{name: "status 401", err: responseError(http.StatusUnauthorized), unauthorized: true},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "SlowDown", Message: "Please reduce your request rate."}, code: "SlowDown"},
		{name: "status 500", err: responseError(http.StatusInternalServerError), code: "ClientError"},
		{name: "transport", err: errors.New("dial tcp 127.0.0.1:4566: connection refused"), code: "ClientError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyS3Error(tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, IsNotFound(err), "not found")
			assert.Equal(t, tt.unauthorized, IsUnauthorized(err), "unauthorized")
			assert.ErrorIs(t, err, tt.err, "SDK error stays reachable")
			if tt.code != "" {
				var ce *ClientError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tt.code, ce.Code)
			}
		})
	}

	assert.NoError(t, classifyS3Error(nil))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}

// TestS3StoreIntegration runs against a real S3-compatible endpoint such as
// LocalStack or MinIO. The bucket must exist.
func TestS3StoreIntegration(t *testing.T) {
	endpoint := os.Getenv("S3CACHE_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3CACHE_TEST_ENDPOINT not set")
	}
	bucket := os.Getenv("S3CACHE_TEST_BUCKET")
	if bucket == "" {
		bucket = "s3cache-test"
	}

	ctx := context.Background()
	store, err := NewS3Store(ctx, S3Config{
		Bucket:          bucket,
		Region:          "us-east-1",
		EndpointURL:     endpoint,
		UsePathStyle:    true,
		AccessKeyID:     envOr("S3CACHE_TEST_ACCESS_KEY_ID", "test"),
		SecretAccessKey: envOr("S3CACHE_TEST_SECRET_ACCESS_KEY", "test"),
	})
	require.NoError(t, err)

	prefix := "it-" + uuid.New().String() + "/"
	t.Cleanup(func() { store.DeletePrefix(context.Background(), prefix) })

	md := map[string]string{"expires_at": "1700000300"}
	require.NoError(t, store.Put(ctx, prefix+"a", []byte("hello"), md))
	require.NoError(t, store.Put(ctx, prefix+"b", []byte("world"), nil))

	obj, err := store.Get(ctx, prefix+"a")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Body))
	assert.Equal(t, "1700000300", obj.Metadata["expires_at"])

	head, err := store.Head(ctx, prefix+"a")
	require.NoError(t, err)
	assert.Equal(t, "1700000300", head["expires_at"])

	_, err = store.Head(ctx, prefix+"missing")
	assert.True(t, IsNotFound(err), "got %v", err)
	_, err = store.Get(ctx, prefix+"missing")
	assert.True(t, IsNotFound(err), "got %v", err)

	errs, err := store.DeleteBatch(ctx, []string{prefix + "a", prefix + "missing"})
	require.NoError(t, err)
	assert.Empty(t, errs)

	require.NoError(t, store.DeletePrefix(ctx, prefix))
	_, err = store.Head(ctx, prefix+"b")
	assert.True(t, IsNotFound(err))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
