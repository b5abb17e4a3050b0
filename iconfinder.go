package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const catalogPageSize int = 10

// IconCatalogClient searches the Iconfinder catalog, serving repeated
// identical requests from the response cache.
type IconCatalogClient struct {
	Http    http.Client
	cache   ResponseCache
	limiter *rate.Limiter
	token   string
	baseUrl string
	log     *logrus.Entry
}

func NewIconCatalogClient(cfg *Config, cache ResponseCache) *IconCatalogClient {
	timeout := cfg.CatalogTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	api := IconCatalogClient{
		Http:    http.Client{Timeout: timeout},
		cache:   cache,
		token:   cfg.Iconfinder.Token,
		baseUrl: cfg.Iconfinder.BaseUrl,
		log:     newLogger("iconfinder"),
	}
	if cfg.Iconfinder.RateLimit > 0 {
		burst := cfg.Iconfinder.Burst
		if burst < 1 {
			burst = 1
		}
		api.limiter = rate.NewLimiter(rate.Limit(cfg.Iconfinder.RateLimit), burst)
	}
	return &api
}

func (api *IconCatalogClient) Type() string {
	return "iconfinder"
}

func (api *IconCatalogClient) PageSize() int { return catalogPageSize }

func (api *IconCatalogClient) newRequest(ctx context.Context, query string, page int) (*http.Request, error) {
	base, err := url.Parse(api.baseUrl)
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("search endpoint must be an absolute url: " + strconv.Quote(api.baseUrl))
	}
	qParam := base.Query()
	qParam.Add("query", query)
	qParam.Add("count", strconv.Itoa(catalogPageSize))
	qParam.Add("offset", strconv.Itoa(page*catalogPageSize))
	qParam.Add("premium", "0")
	qParam.Add("vector", "0")
	base.RawQuery = qParam.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+api.token)
	return req, nil
}

// Fetch returns the records of one zero-based catalog page. Failures are
// always *FetchError.
func (api *IconCatalogClient) Fetch(ctx context.Context, query string, page int) ([]IconRecord, error) {
	log := logFor(ctx, api.log).WithFields(logrus.Fields{"query": query, "page": page})

	req, err := api.newRequest(ctx, query, page)
	if err != nil {
		log.WithError(err).Error("Failed to create http request")
		return api.fail(fetchError(InvalidRequest, err))
	}
	key, err := requestKey(req)
	if err != nil {
		return api.fail(fetchError(InvalidRequest, err))
	}

	if api.cache != nil {
		if body, ok := api.cache.Lookup(key); ok {
			records, err := decodeCatalog(body)
			if err == nil {
				cacheLookupsTotal.WithLabelValues("hit").Inc()
				catalogRequestsTotal.WithLabelValues("ok").Inc()
				return records, nil
			}
			log.WithError(err).Warn("Problems decoding cached result")
		}
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	if api.limiter != nil {
		if err := api.limiter.Wait(ctx); err != nil {
			return api.fail(fetchError(NetworkError, err))
		}
	}

	resp, err := api.Http.Do(req)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch")
		return api.fail(fetchError(NetworkError, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status", resp.StatusCode).Warn("Catalog returned error status")
		return api.fail(&FetchError{Kind: BadResponse, Status: resp.StatusCode})
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Warn("Failed to read response")
		return api.fail(fetchError(NetworkError, err))
	}
	records, err := decodeCatalog(body)
	if err != nil {
		log.WithError(err).Warn("Failed to decode response")
		log.WithField("payload", string(body)).Debug("Undecodable catalog payload")
		return api.fail(fetchError(DecodeError, err))
	}
	if api.cache != nil {
		api.cache.Store(key, body)
		log.WithField("host", req.URL.Host).Debug("MISS")
	}
	catalogRequestsTotal.WithLabelValues("ok").Inc()
	return records, nil
}

func (api *IconCatalogClient) fail(err *FetchError) ([]IconRecord, error) {
	catalogRequestsTotal.WithLabelValues(err.Kind.String()).Inc()
	return nil, err
}

func decodeCatalog(body []byte) ([]IconRecord, error) {
	if err := validateCatalog(body); err != nil {
		return nil, err
	}
	data := IconfinderSearchResult{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	return data.Records(), nil
}

const maxDownloadSize = 10 << 20

// Download fetches an icon file from the catalog with the API token. Only
// urls on the catalog host are accepted.
func (api *IconCatalogClient) Download(ctx context.Context, rawUrl string) ([]byte, error) {
	log := logFor(ctx, api.log).WithField("url", rawUrl)

	req, err := api.newDownloadRequest(ctx, rawUrl)
	if err != nil {
		log.WithError(err).Warn("Rejected download url")
		return api.failDownload(fetchError(InvalidRequest, err))
	}
	key, err := requestKey(req)
	if err != nil {
		return api.failDownload(fetchError(InvalidRequest, err))
	}
	if api.cache != nil {
		if body, ok := api.cache.Lookup(key); ok {
			cacheLookupsTotal.WithLabelValues("hit").Inc()
			catalogRequestsTotal.WithLabelValues("ok").Inc()
			return body, nil
		}
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	if api.limiter != nil {
		if err := api.limiter.Wait(ctx); err != nil {
			return api.failDownload(fetchError(NetworkError, err))
		}
	}
	resp, err := api.Http.Do(req)
	if err != nil {
		log.WithError(err).Warn("Failed to download")
		return api.failDownload(fetchError(NetworkError, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status", resp.StatusCode).Warn("Catalog returned error status")
		return api.failDownload(&FetchError{Kind: BadResponse, Status: resp.StatusCode})
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return api.failDownload(fetchError(NetworkError, err))
	}
	if len(body) > maxDownloadSize {
		return api.failDownload(fetchError(BadResponse, errors.New("icon file too large")))
	}
	if api.cache != nil {
		api.cache.Store(key, body)
	}
	catalogRequestsTotal.WithLabelValues("ok").Inc()
	return body, nil
}

func (api *IconCatalogClient) newDownloadRequest(ctx context.Context, rawUrl string) (*http.Request, error) {
	base, err := url.Parse(api.baseUrl)
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(rawUrl)
	if err != nil {
		return nil, err
	}
	if target.Scheme != base.Scheme || target.Host == "" || target.Host != base.Host {
		return nil, errors.New("download url is not on the catalog host: " + strconv.Quote(rawUrl))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+api.token)
	return req, nil
}

func (api *IconCatalogClient) failDownload(err *FetchError) ([]byte, error) {
	catalogRequestsTotal.WithLabelValues(err.Kind.String()).Inc()
	return nil, err
}
