package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	failures int
	err      error
	calls    int
}

func (f *flakyStore) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "https://bucket.test/" + key, nil
}

func newTestRetryingStore(store Store, waits *[]time.Duration) *RetryingStore {
	r := NewRetryingStore(store, DefaultRetryConfig(), slog.Default())
	r.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return r
}

func TestRetryingStore_Put(t *testing.T) {
	transient := &TransientError{Err: errors.New("connection reset")}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var waits []time.Duration
		store := &flakyStore{failures: 2, err: transient}

		url, err := newTestRetryingStore(store, &waits).Put(context.Background(), "2023/Up/a.jpg", []byte("x"), "image/jpeg")
		require.NoError(t, err)
		assert.Equal(t, "https://bucket.test/2023/Up/a.jpg", url)
		assert.Equal(t, 3, store.calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
	})

	t.Run("fails once after five attempts", func(t *testing.T) {
		var waits []time.Duration
		store := &flakyStore{failures: 100, err: transient}

		_, err := newTestRetryingStore(store, &waits).Put(context.Background(), "k.jpg", []byte("x"), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, 5, store.calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, waits)
	})

	t.Run("non-transient errors are not retried", func(t *testing.T) {
		var waits []time.Duration
		permanent := errors.New("access denied")
		store := &flakyStore{failures: 100, err: permanent}

		_, err := newTestRetryingStore(store, &waits).Put(context.Background(), "k.jpg", []byte("x"), "")
		assert.ErrorIs(t, err, permanent)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 1, store.calls)
		assert.Empty(t, waits)
	})

	t.Run("context cancellation stops the backoff", func(t *testing.T) {
		store := &flakyStore{failures: 100, err: transient}
		r := NewRetryingStore(store, DefaultRetryConfig(), slog.Default())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := r.Put(ctx, "k.jpg", []byte("x"), "")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, store.calls)
	})
}

func TestLocalStore_Put(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "https://cdn.test/")

	url, err := store.Put(context.Background(), "2023/Avatar/123_front.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/2023/Avatar/123_front.jpg", url)

	data, err := os.ReadFile(filepath.Join(dir, "2023", "Avatar", "123_front.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	_, err = store.Put(context.Background(), "../escape.jpg", nil, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	args := m.Called(*in.Bucket, *in.Key, string(body))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func TestS3Store_Put(t *testing.T) {
	t.Run("returns bucket url", func(t *testing.T) {
		client := new(mockS3)
		client.On("PutObject", "discs", "2023/Up/1_front.jpg", "jpeg").Return(&s3.PutObjectOutput{}, nil)

		store := NewS3StoreWithClient(client, S3Config{Bucket: "discs"})
		url, err := store.Put(context.Background(), "2023/Up/1_front.jpg", []byte("jpeg"), "image/jpeg")
		require.NoError(t, err)
		assert.Equal(t, "https://discs.s3.amazonaws.com/2023/Up/1_front.jpg", url)
		client.AssertExpectations(t)
	})

	t.Run("network failures are transient", func(t *testing.T) {
		client := new(mockS3)
		client.On("PutObject", "discs", "k.jpg", "").Return(nil, errors.New("dial tcp: i/o timeout"))

		_, err := NewS3StoreWithClient(client, S3Config{Bucket: "discs"}).Put(context.Background(), "k.jpg", nil, "")
		assert.True(t, IsTransient(err))
	})

	t.Run("access denied is permanent", func(t *testing.T) {
		client := new(mockS3)
		client.On("PutObject", "discs", "k.jpg", "").Return(nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"})

		_, err := NewS3StoreWithClient(client, S3Config{Bucket: "discs"}).Put(context.Background(), "k.jpg", nil, "")
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})
}
