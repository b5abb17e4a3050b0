package main

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/apibillme/cache"
	"github.com/sirupsen/logrus"
)

// ResponseCache holds raw catalog response bodies keyed by the request that
// produced them. Implementations must be safe for concurrent use.
type ResponseCache interface {
	Lookup(key string) ([]byte, bool)
	Store(key string, body []byte)
}

type cachedBody struct {
	body   []byte
	expiry int64
}

// ReqCache keeps recent responses in an in-memory LRU and, when a Store is
// attached, persists them to sqlite so they survive restarts.
type ReqCache struct {
	store *Store
	log   *logrus.Entry
	ttl   time.Duration
	now   func() time.Time

	mu  sync.Mutex
	mem cache.Cache

	stop chan struct{}
	once sync.Once
}

func NewReqCache(cfg *Config, store *Store) *ReqCache {
	entries := cfg.Cache.MemEntries
	if entries <= 0 {
		entries = 256
	}
	ttl := cfg.CacheTTL()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	rc := ReqCache{
		store: store,
		log:   newLogger("cache"),
		ttl:   ttl,
		now:   time.Now,
		mem:   cache.New(entries, cache.WithTTL(ttl)),
		stop:  make(chan struct{}),
	}
	if store != nil {
		go rc.purgeExpired()
	}
	return &rc
}

func (rc *ReqCache) purgeExpired() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		rc.store.DeleteBefore(time.Now().Unix())
		select {
		case <-ticker.C:
		case <-rc.stop:
			return
		}
	}
}

func (rc *ReqCache) Close() {
	rc.once.Do(func() { close(rc.stop) })
}

func (rc *ReqCache) Lookup(key string) ([]byte, bool) {
	now := rc.now().Unix()
	rc.mu.Lock()
	v, ok := rc.mem.Get(key)
	rc.mu.Unlock()
	if ok {
		if entry := v.(cachedBody); entry.expiry >= now {
			return entry.body, true
		}
	}
	if rc.store == nil {
		return nil, false
	}
	body, expiry, ok := rc.store.GetResponse(key, now)
	if !ok {
		return nil, false
	}
	rc.remember(key, body, expiry)
	return body, true
}

func (rc *ReqCache) Store(key string, body []byte) {
	expiry := rc.now().Add(rc.ttl).Unix()
	rc.remember(key, body, expiry)
	if rc.store != nil {
		rc.store.StoreResponse(key, body, expiry)
	}
}

func (rc *ReqCache) remember(key string, body []byte, expiry int64) {
	rc.mu.Lock()
	rc.mem.Set(key, cachedBody{body: body, expiry: expiry})
	rc.mu.Unlock()
}

// requestKey identifies a request by the md5 of its wire form, so the same
// endpoint, query and headers always map to the same entry.
func requestKey(req *http.Request) (string, error) {
	reqBytes, err := httputil.DumpRequest(req, false)
	if err != nil {
		return "", err
	}
	md5Hash := md5.Sum(reqBytes)
	return hex.EncodeToString(md5Hash[:]), nil
}
