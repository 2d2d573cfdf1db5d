package miniostore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

const bucketName = "billboard"

func s3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><BucketName>%s</BucketName><RequestId>req</RequestId></Error>`, code, code, bucketName)
}

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	store, err := New(Config{
		Endpoint:  u.Host,
		Bucket:    bucketName,
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return store
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Endpoint: "localhost:9000", Bucket: bucketName})
	require.Error(t, err)
	require.True(t, chart.IsCredentials(err))

	_, err = New(Config{AccessKey: "a", SecretKey: "b", Bucket: bucketName})
	require.Error(t, err)
	require.False(t, chart.IsCredentials(err))
}

func TestGetReturnsObject(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+bucketName+"/hot-100/global/hot100.csv", r.URL.Path)
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Last-Modified", "Wed, 10 Jan 2024 00:00:00 GMT")
		w.Header().Set("ETag", `"etag"`)
		_, _ = io.WriteString(w, "Date,Song")
	}))

	data, err := store.Get(context.Background(), "hot-100/global/hot100.csv")
	require.NoError(t, err)
	require.Equal(t, "Date,Song", string(data))
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s3Error(w, http.StatusNotFound, "NoSuchKey")
	}))

	_, err := store.Get(context.Background(), "hot-100/global/hot100.csv")
	require.ErrorIs(t, err, chart.ErrNotFound)
}

func TestPutAccessDenied(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s3Error(w, http.StatusForbidden, "AccessDenied")
	}))

	err := store.Put(context.Background(), "hot-100/2024/01/06/result.csv", []byte("x"))
	require.Error(t, err)
	require.True(t, chart.IsCredentials(err), "got %v", err)
}

func TestPutUploadsCSV(t *testing.T) {
	t.Parallel()

	payload := "Date,Song\n2024-01-06,Lovin On Me"
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/"+bucketName+"/hot-100/2024/01/06/result.csv", r.URL.Path)
		assert.Equal(t, csvContentType, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, store.Put(context.Background(), "hot-100/2024/01/06/result.csv", []byte(payload)))
	require.Equal(t, "s3://billboard/hot-100/2024/01/06/result.csv", store.URI("hot-100/2024/01/06/result.csv"))
}

func TestClassifyFallsBackToStatus(t *testing.T) {
	t.Parallel()

	err := classify("get", "k", fmt.Errorf("plain failure"))
	require.Error(t, err)
	require.NotErrorIs(t, err, chart.ErrNotFound)
	require.False(t, chart.IsCredentials(err))
}
