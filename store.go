package main

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/apibillme/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type Store struct {
	db        *sql.DB
	log       *logrus.Entry
	cacheMu   sync.Mutex
	userCache cache.Cache
}

const reqTable string = `
  CREATE TABLE IF NOT EXISTS reqdata (
      hash TEXT NOT NULL PRIMARY KEY,
      body BLOB NOT NULL,
      expiry INT NOT NULL
  )
`

const userTable string = `
  CREATE TABLE IF NOT EXISTS users (
      user TEXT NOT NULL PRIMARY KEY,
      hash TEXT NOT NULL,
      level INT NOT NULL
  )
`

const favoriteTable string = `
  CREATE TABLE IF NOT EXISTS favorites (
      icon_id INT NOT NULL PRIMARY KEY,
      preview_url TEXT NOT NULL,
      full_url TEXT NOT NULL,
      size TEXT NOT NULL,
      tags TEXT NOT NULL,
      created INT NOT NULL
  )
`

func NewStore(cfg *Config) *Store {
	logger := newLogger("store")

	filename := cfg.Database
	if filename == "" {
		filename = "data/cache.db"
	}
	if dir := filepath.Dir(filename); dir != "." {
		dbError(logger, os.MkdirAll(dir, 0o755))
	}
	db, err := sql.Open("sqlite3", "file:"+filename+"?_busy_timeout=5000")
	dbError(logger, err)
	// single connection: sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	for _, table := range []string{reqTable, userTable, favoriteTable} {
		_, err = db.Exec(table)
		dbError(logger, err)
	}

	userCache := cache.New(256, cache.WithTTL(1*time.Hour))

	return &Store{
		db:        db,
		log:       logger,
		userCache: userCache,
	}
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) DeleteBefore(expiry int64) {
	res, err := store.db.Exec("DELETE FROM reqdata WHERE expiry < ?", expiry)
	if err != nil {
		store.log.WithError(err).Error("Failed to purge expired responses")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		store.log.WithField("rows", n).Debug("Purged expired responses")
	}
}

// GetResponse returns a cached body that is still valid at now, along with
// the unix time it expires.
func (store *Store) GetResponse(hash string, now int64) ([]byte, int64, bool) {
	row := store.db.QueryRow("SELECT body, expiry FROM reqdata WHERE hash = ? AND expiry >= ?", hash, now)
	var data []byte
	var expiry int64
	err := row.Scan(&data, &expiry)
	if err == nil {
		return data, expiry, true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		store.log.WithError(err).Error("Failed to read cached response")
	}
	return nil, 0, false
}

func (store *Store) StoreResponse(hash string, body []byte, expiry int64) {
	_, err := store.db.Exec("INSERT OR REPLACE INTO reqdata VALUES (?,?,?)",
		hash,
		body,
		expiry,
	)
	if err != nil {
		store.log.WithError(err).Error("Failed to store response")
	}
}

func (store *Store) AddUser(user string, pass string, level int) error {
	hash, err := argon2id.CreateHash(pass, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = store.db.Exec("INSERT OR REPLACE INTO users VALUES (?,?,?)", user, hash, level)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	store.cacheMu.Lock()
	store.userCache.Set(user, pass)
	store.cacheMu.Unlock()
	return nil
}

func (store *Store) TestUser(user string, pass string) bool {
	store.cacheMu.Lock()
	userPass, ok := store.userCache.Get(user)
	store.cacheMu.Unlock()
	if ok && 1 == subtle.ConstantTimeCompare([]byte(userPass.(string)), []byte(pass)) {
		return true
	}
	row := store.db.QueryRow("SELECT hash FROM users WHERE user = ?", user)
	var hash string
	err := row.Scan(&hash)
	if err == nil {
		match, err := argon2id.ComparePasswordAndHash(pass, hash)
		if err != nil {
			store.log.WithError(err).Error("Error comparing password hashes")
			return false
		}
		if match {
			store.cacheMu.Lock()
			store.userCache.Set(user, pass)
			store.cacheMu.Unlock()
			return true
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		store.log.WithError(err).Error("Failed to look up user")
	}
	return false
}

func (store *Store) CountFavorites() (int, error) {
	var n int
	err := store.db.QueryRow("SELECT COUNT(*) FROM favorites").Scan(&n)
	return n, err
}

func (store *Store) HasFavorite(id int64) (bool, error) {
	var n int
	err := store.db.QueryRow("SELECT COUNT(*) FROM favorites WHERE icon_id = ?", id).Scan(&n)
	return n > 0, err
}

func (store *Store) InsertFavorite(fav FavoriteIcon) error {
	_, err := store.db.Exec("INSERT OR REPLACE INTO favorites VALUES (?,?,?,?,?,?)",
		fav.Id,
		fav.PreviewUrl,
		fav.FullUrl,
		fav.Size,
		fav.Tags,
		fav.Created.UnixNano(),
	)
	return err
}

func (store *Store) DeleteFavorite(id int64) (bool, error) {
	res, err := store.db.Exec("DELETE FROM favorites WHERE icon_id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (store *Store) ListFavorites() ([]FavoriteIcon, error) {
	rows, err := store.db.Query(`
		SELECT icon_id, preview_url, full_url, size, tags, created
		FROM favorites
		ORDER BY created, rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var favs []FavoriteIcon
	for rows.Next() {
		var fav FavoriteIcon
		var created int64
		if err := rows.Scan(&fav.Id, &fav.PreviewUrl, &fav.FullUrl, &fav.Size, &fav.Tags, &created); err != nil {
			return nil, err
		}
		fav.Created = time.Unix(0, created)
		favs = append(favs, fav)
	}
	return favs, rows.Err()
}

func dbError(log *logrus.Entry, err error) {
	if err != nil {
		log.WithError(err).Panic("DB Error")
	}
}
