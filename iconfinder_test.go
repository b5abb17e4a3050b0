package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arrowResponse string = `{
  "total_count": 1,
  "icons": [{
    "icon_id": 42,
    "tags": ["arrow", "up"],
    "raster_sizes": [{
      "size": 32, "size_width": 32, "size_height": 32,
      "formats": [{"format": "png", "preview_url": "https://cdn.example/42/preview.png", "download_url": "https://api.example/42/download/png"}]
    }]
  }]
}`

type catalogStub struct {
	hits   atomic.Int32
	status int
	body   string
	last   atomic.Pointer[http.Request]
}

func (c *catalogStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.hits.Add(1)
	c.last.Store(r)
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(c.body))
}

func testConfig(baseUrl string) *Config {
	cfg := &Config{}
	cfg.Iconfinder.BaseUrl = baseUrl
	cfg.Iconfinder.Token = "test-token"
	cfg.Iconfinder.Timeout = 10
	cfg.Cache.TTL = 3600
	cfg.Cache.MemEntries = 64
	cfg.Search.PageSize = 25
	cfg.Favorites.Limit = 10
	return cfg
}

func newTestCatalog(t *testing.T, stub *catalogStub) *IconCatalogClient {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	cfg := testConfig(srv.URL + "/v4/icons/search")
	return NewIconCatalogClient(cfg, NewReqCache(cfg, nil))
}

func TestFetchBuildsRequest(t *testing.T) {
	stub := &catalogStub{body: arrowResponse}
	api := newTestCatalog(t, stub)

	_, err := api.Fetch(context.Background(), "arrow", 3)
	require.NoError(t, err)

	req := stub.last.Load()
	require.NotNil(t, req)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/v4/icons/search", req.URL.Path)
	q := req.URL.Query()
	assert.Equal(t, "arrow", q.Get("query"))
	assert.Equal(t, "10", q.Get("count"))
	assert.Equal(t, "30", q.Get("offset"))
	assert.Equal(t, "0", q.Get("premium"))
	assert.Equal(t, "0", q.Get("vector"))
	assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
}

func TestFetchKeepsEndpointQuery(t *testing.T) {
	stub := &catalogStub{body: arrowResponse}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	cfg := testConfig(srv.URL + "/search?style=flat")
	api := NewIconCatalogClient(cfg, nil)

	_, err := api.Fetch(context.Background(), "", 0)
	require.NoError(t, err)
	q := stub.last.Load().URL.Query()
	assert.Equal(t, "flat", q.Get("style"))
	assert.True(t, q.Has("query"))
	assert.Equal(t, "", q.Get("query"))
	assert.Equal(t, "0", q.Get("offset"))
}

func TestFetchDecodesRecords(t *testing.T) {
	api := newTestCatalog(t, &catalogStub{body: arrowResponse})

	records, err := api.Fetch(context.Background(), "arrow", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, IconRecord{
		Id:         42,
		PreviewUrl: "https://cdn.example/42/preview.png",
		FullUrl:    "https://api.example/42/download/png",
		Size:       "32 x 32",
		Tags:       "arrow, up",
	}, records[0])
}

func TestFetchCacheHit(t *testing.T) {
	stub := &catalogStub{body: arrowResponse}
	api := newTestCatalog(t, stub)

	for i := 0; i < 3; i++ {
		records, err := api.Fetch(context.Background(), "arrow", 1)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	}
	assert.Equal(t, int32(1), stub.hits.Load(), "identical fetches must be served from cache")

	_, err := api.Fetch(context.Background(), "arrow", 2)
	require.NoError(t, err)
	_, err = api.Fetch(context.Background(), "arrows", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), stub.hits.Load(), "different page or query misses")
}

func TestFetchRefetchesCorruptCacheEntry(t *testing.T) {
	stub := &catalogStub{body: arrowResponse}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	cfg := testConfig(srv.URL)
	rc := NewReqCache(cfg, nil)
	api := NewIconCatalogClient(cfg, rc)

	req, err := api.newRequest(context.Background(), "arrow", 0)
	require.NoError(t, err)
	key, err := requestKey(req)
	require.NoError(t, err)
	rc.Store(key, []byte("garbage"))

	records, err := api.Fetch(context.Background(), "arrow", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(1), stub.hits.Load())

	body, ok := rc.Lookup(key)
	require.True(t, ok)
	assert.JSONEq(t, arrowResponse, string(body), "the good payload replaces the corrupt one")
}

func TestFetchBadResponse(t *testing.T) {
	stub := &catalogStub{status: http.StatusUnauthorized, body: `{"message": "nope"}`}
	api := newTestCatalog(t, stub)

	_, err := api.Fetch(context.Background(), "arrow", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse))
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusUnauthorized, fe.Status)

	_, err = api.Fetch(context.Background(), "arrow", 0)
	require.Error(t, err)
	assert.Equal(t, int32(2), stub.hits.Load(), "failed responses are not cached")
}

func TestFetchDecodeError(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `<html>oops</html>`,
		"wrong type":     `{"total_count": 1, "icons": "none"}`,
		"missing icons":  `{"total_count": 0}`,
		"missing format": `{"total_count": 1, "icons": [{"icon_id": 1, "tags": [], "raster_sizes": [{"size": 16, "size_width": 16, "size_height": 16, "formats": [{"format": "png"}]}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			stub := &catalogStub{body: body}
			api := newTestCatalog(t, stub)

			_, err := api.Fetch(context.Background(), "arrow", 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), err.Error())

			_, err = api.Fetch(context.Background(), "arrow", 0)
			require.Error(t, err)
			assert.Equal(t, int32(2), stub.hits.Load())
		})
	}
}

func TestFetchEmptyRasterSizes(t *testing.T) {
	api := newTestCatalog(t, &catalogStub{
		body: `{"total_count": 1, "icons": [{"icon_id": 7, "tags": ["blank"], "raster_sizes": []}]}`,
	})

	records, err := api.Fetch(context.Background(), "blank", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, IconRecord{Id: 7, Tags: "blank"}, records[0])
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(srv.URL)
	srv.Close()
	api := NewIconCatalogClient(cfg, NewReqCache(cfg, nil))

	_, err := api.Fetch(context.Background(), "arrow", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, http.StatusBadGateway, httpStatusFor(err))
}

func TestFetchCanceled(t *testing.T) {
	api := newTestCatalog(t, &catalogStub{body: arrowResponse})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := api.Fetch(ctx, "arrow", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetchInvalidRequest(t *testing.T) {
	for _, base := range []string{"", "not a url", "://missing-scheme", "/relative/path"} {
		cfg := testConfig(base)
		api := NewIconCatalogClient(cfg, nil)

		_, err := api.Fetch(context.Background(), "arrow", 0)
		require.Error(t, err, base)
		assert.True(t, errors.Is(err, ErrInvalidRequest), base)
		assert.Equal(t, http.StatusInternalServerError, httpStatusFor(err))
	}
}

func TestFetchRateLimited(t *testing.T) {
	stub := &catalogStub{body: arrowResponse}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	cfg := testConfig(srv.URL)
	cfg.Iconfinder.RateLimit = 0.001
	cfg.Iconfinder.Burst = 1
	api := NewIconCatalogClient(cfg, nil)

	_, err := api.Fetch(context.Background(), "arrow", 0)
	require.NoError(t, err)

	// the bucket is empty and refills far later than any deadline
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = api.Fetch(ctx, "arrow", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, int32(1), stub.hits.Load())
}

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func TestDownloadUsesTokenAndCache(t *testing.T) {
	stub := &catalogStub{body: pngHeader}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	cfg := testConfig(srv.URL + "/v4/icons/search")
	api := NewIconCatalogClient(cfg, NewReqCache(cfg, nil))

	for i := 0; i < 2; i++ {
		body, err := api.Download(context.Background(), srv.URL+"/v4/icons/42/raster_sizes/32/formats/png/download")
		require.NoError(t, err)
		assert.Equal(t, pngHeader, string(body))
	}
	assert.Equal(t, int32(1), stub.hits.Load())
	req := stub.last.Load()
	assert.Equal(t, "/v4/icons/42/raster_sizes/32/formats/png/download", req.URL.Path)
	assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
}

func TestDownloadRejectsOtherHosts(t *testing.T) {
	stub := &catalogStub{body: pngHeader}
	api := newTestCatalog(t, stub)

	for _, target := range []string{
		"https://evil.example/42.png",
		"/42.png",
		"not a url\x7f",
		"",
	} {
		_, err := api.Download(context.Background(), target)
		require.Error(t, err, target)
		assert.True(t, errors.Is(err, ErrInvalidRequest), target)
	}
	assert.Equal(t, int32(0), stub.hits.Load())
}

func TestDownloadBadResponse(t *testing.T) {
	stub := &catalogStub{status: http.StatusForbidden}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	cfg := testConfig(srv.URL)
	api := NewIconCatalogClient(cfg, NewReqCache(cfg, nil))

	_, err := api.Download(context.Background(), srv.URL+"/42/download")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse))
	_, err = api.Download(context.Background(), srv.URL+"/42/download")
	require.Error(t, err)
	assert.Equal(t, int32(2), stub.hits.Load(), "failed downloads are not cached")
}
