package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	putObject func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.putObject(ctx, in)
}

func TestS3Store_Put(t *testing.T) {
	var got *s3.PutObjectInput
	store := &S3Store{bucket: "fieldops-docs", client: &mockPutter{
		putObject: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			got = in
			return &s3.PutObjectOutput{}, nil
		},
	}}

	ref, err := store.Put(context.Background(), "couriers/1/id.png", "image/png", strings.NewReader("png"))

	require.NoError(t, err)
	assert.Equal(t, "s3://fieldops-docs/couriers/1/id.png", ref)
	assert.Equal(t, "fieldops-docs", aws.ToString(got.Bucket))
	assert.Equal(t, "image/png", aws.ToString(got.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(got.ContentLength))
	body, _ := io.ReadAll(got.Body)
	assert.Equal(t, "png", string(body))
}

func TestS3Store_Put_PropagatesError(t *testing.T) {
	store := &S3Store{bucket: "b", client: &mockPutter{
		putObject: func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}}

	_, err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("x"))
	assert.ErrorContains(t, err, "access denied")
}

func TestMemoryStore_PutGet(t *testing.T) {
	m := NewMemoryStore()
	ref, err := m.Put(context.Background(), "deliveries/9/proof", "image/jpeg", strings.NewReader("jpg"))
	require.NoError(t, err)
	assert.Equal(t, "mem://deliveries/9/proof", ref)

	obj, ok := m.Get("deliveries/9/proof")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, []byte("jpg"), obj.Data)
}

func TestPut_RejectsOversizedBody(t *testing.T) {
	_, err := NewMemoryStore().Put(context.Background(), "k", "", bytes.NewReader(make([]byte, MaxObjectBytes+1)))
	assert.ErrorIs(t, err, ErrTooLarge)
}
