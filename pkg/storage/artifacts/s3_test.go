package artifacts

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts          []*s3.PutObjectInput
	bodies        [][]byte
	putErr        error
	headErr       error
	createErr     error
	createdBucket string
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdBucket = aws.ToString(params.Bucket)
	return &s3.CreateBucketOutput{}, nil
}

type fakePresigner struct {
	key     string
	expires time.Duration
	err     error
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.key = aws.ToString(params.Key)
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://" + aws.ToString(params.Bucket) + ".s3.amazonaws.com/" + f.key + "?X-Amz-Signature=sig",
		Method: "GET",
	}, nil
}

func newTestS3Store(client *fakeS3, presigner *fakePresigner, now time.Time) *S3Store {
	store := NewS3StoreWithClient(client, presigner, "audit-exports", "exports")
	store.now = func() time.Time { return now }
	return store
}

func TestS3Store_Put(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	client := &fakeS3{}
	presigner := &fakePresigner{}
	store := newTestS3Store(client, presigner, now)

	expires := now.AddDate(0, 0, 7)
	url, err := store.Put(context.Background(), "audit-export.csv", "text/csv", []byte("ID\n1\n"), expires)
	require.NoError(t, err)
	assert.Equal(t, "https://audit-exports.s3.amazonaws.com/exports/audit-export.csv?X-Amz-Signature=sig", url)

	require.Len(t, client.puts, 1)
	put := client.puts[0]
	assert.Equal(t, "audit-exports", aws.ToString(put.Bucket))
	assert.Equal(t, "exports/audit-export.csv", aws.ToString(put.Key))
	assert.Equal(t, "text/csv", aws.ToString(put.ContentType))
	assert.Equal(t, expires, aws.ToTime(put.Expires))
	assert.Len(t, put.Metadata["checksum-sha256"], 64)
	assert.Equal(t, []byte("ID\n1\n"), client.bodies[0])

	assert.Equal(t, "exports/audit-export.csv", presigner.key)
	assert.Equal(t, 7*24*time.Hour, presigner.expires)
}

func TestS3Store_PutClampsPresignExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	presigner := &fakePresigner{}
	store := newTestS3Store(&fakeS3{}, presigner, now)

	_, err := store.Put(context.Background(), "a.json", "application/json", nil, now.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, MaxPresignExpiry, presigner.expires)

	_, err = store.Put(context.Background(), "b.json", "application/json", nil, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, presigner.expires)
}

func TestS3Store_PutErrors(t *testing.T) {
	now := time.Now()

	store := newTestS3Store(&fakeS3{putErr: errors.New("access denied")}, &fakePresigner{}, now)
	_, err := store.Put(context.Background(), "a.json", "application/json", []byte("[]"), now.Add(time.Hour))
	assert.ErrorContains(t, err, "access denied")

	store = newTestS3Store(&fakeS3{}, &fakePresigner{err: errors.New("no credentials")}, now)
	_, err = store.Put(context.Background(), "a.json", "application/json", []byte("[]"), now.Add(time.Hour))
	assert.ErrorContains(t, err, "presigned URL")
}

func TestS3Store_EnsureBucket(t *testing.T) {
	existing := &fakeS3{}
	require.NoError(t, newTestS3Store(existing, nil, time.Now()).EnsureBucket(context.Background()))
	assert.Empty(t, existing.createdBucket)

	missing := &fakeS3{headErr: errors.New("NotFound")}
	require.NoError(t, newTestS3Store(missing, nil, time.Now()).EnsureBucket(context.Background()))
	assert.Equal(t, "audit-exports", missing.createdBucket)

	raced := &fakeS3{headErr: errors.New("NotFound"), createErr: errors.New("BucketAlreadyOwnedByYou: mine")}
	assert.NoError(t, newTestS3Store(raced, nil, time.Now()).EnsureBucket(context.Background()))

	denied := &fakeS3{headErr: errors.New("NotFound"), createErr: errors.New("AccessDenied")}
	assert.ErrorContains(t, newTestS3Store(denied, nil, time.Now()).EnsureBucket(context.Background()), "failed to create bucket")
}

func TestS3Store_HealthCheck(t *testing.T) {
	assert.NoError(t, newTestS3Store(&fakeS3{}, nil, time.Now()).HealthCheck(context.Background()))
	assert.ErrorContains(t,
		newTestS3Store(&fakeS3{headErr: errors.New("timeout")}, nil, time.Now()).HealthCheck(context.Background()),
		"s3 health check failed")
}
