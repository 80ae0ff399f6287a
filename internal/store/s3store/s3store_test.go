package s3store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

// fakeS3 answers path-style GET and PUT for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(req.URL.Path, "/")
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		f.puts++
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			xml := `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`
			return respond(http.StatusNotFound, []byte(xml), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(http.StatusOK, body, http.Header{"Content-Type": {"application/json"}}), nil
	}
	return respond(http.StatusMethodNotAllowed, nil, nil), nil
}

func respond(code int, body []byte, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode:    code,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newTestRepo(t *testing.T, fake *fakeS3) *store.SnapshotRepository {
	t.Helper()
	repo, err := New(context.Background(), Config{
		Bucket:          "agri",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: fake},
	}, nil)
	require.NoError(t, err)
	return repo
}

func TestS3StoreMissingObjectIsEmpty(t *testing.T) {
	repo := newTestRepo(t, &fakeS3{objects: map[string][]byte{}})
	_, err := repo.Get(context.Background(), "B1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestS3StorePutThenGet(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	repo := newTestRepo(t, fake)
	ctx := context.Background()

	price, qty := 3.0, 12.0
	meta := models.ProducerMetadata{
		Name: "F", Produce: "Maize", Price: &price, Quantity: &qty,
		Location: &geo.GeoPoint{Lat: 0.5, Lng: 35.2},
	}
	require.NoError(t, meta.Normalize(time.Now()))
	require.NoError(t, repo.Put(ctx, models.NewBatchRecord("B1", meta, time.Now())))

	got, err := repo.Get(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "farmerMSP", got.CurrentOwner)
	assert.Equal(t, 1, fake.puts)
	assert.Contains(t, fake.objects, "agri/batches.json")
}

func TestS3ConfigRequiresBucket(t *testing.T) {
	_, err := NewSnapshot(context.Background(), Config{})
	assert.Error(t, err)
}
