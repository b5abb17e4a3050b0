package main

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultFavoritesLimit int = 10

var ErrFavoritesFull = errors.New("favorites: store is full")

type FavoriteIcon struct {
	Id         int64     `json:"id"`
	PreviewUrl string    `json:"previewUrl"`
	FullUrl    string    `json:"fullUrl"`
	Size       string    `json:"size"`
	Tags       string    `json:"tags"`
	Created    time.Time `json:"created"`
}

func favoriteFromRecord(rec IconRecord, created time.Time) FavoriteIcon {
	return FavoriteIcon{
		Id:         rec.Id,
		PreviewUrl: rec.PreviewUrl,
		FullUrl:    rec.FullUrl,
		Size:       rec.Size,
		Tags:       rec.Tags,
		Created:    created,
	}
}

// FavoritesStore persists favorite icons. Add returns ErrFavoritesFull when
// the store is at capacity; List is ordered by creation time, oldest first.
type FavoritesStore interface {
	IsFavorite(id int64) (bool, error)
	Add(fav FavoriteIcon) error
	Remove(id int64) (bool, error)
	List() ([]FavoriteIcon, error)
}

type SQLFavorites struct {
	store *Store
	limit int
}

func NewSQLFavorites(store *Store, limit int) *SQLFavorites {
	if limit <= 0 {
		limit = DefaultFavoritesLimit
	}
	return &SQLFavorites{store: store, limit: limit}
}

func (f *SQLFavorites) IsFavorite(id int64) (bool, error) {
	return f.store.HasFavorite(id)
}

func (f *SQLFavorites) Add(fav FavoriteIcon) error {
	n, err := f.store.CountFavorites()
	if err != nil {
		return err
	}
	if n >= f.limit {
		return ErrFavoritesFull
	}
	return f.store.InsertFavorite(fav)
}

func (f *SQLFavorites) Remove(id int64) (bool, error) {
	return f.store.DeleteFavorite(id)
}

func (f *SQLFavorites) List() ([]FavoriteIcon, error) {
	return f.store.ListFavorites()
}

type MemoryFavorites struct {
	mu    sync.Mutex
	limit int
	favs  []FavoriteIcon
}

func NewMemoryFavorites(limit int) *MemoryFavorites {
	if limit <= 0 {
		limit = DefaultFavoritesLimit
	}
	return &MemoryFavorites{limit: limit}
}

func (f *MemoryFavorites) IsFavorite(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexLocked(id) >= 0, nil
}

func (f *MemoryFavorites) Add(fav FavoriteIcon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexLocked(fav.Id); i >= 0 {
		f.favs = append(f.favs[:i], f.favs[i+1:]...)
	} else if len(f.favs) >= f.limit {
		return ErrFavoritesFull
	}
	// keep creation order even if a caller hands in an older timestamp
	i := len(f.favs)
	for i > 0 && f.favs[i-1].Created.After(fav.Created) {
		i--
	}
	f.favs = append(f.favs, FavoriteIcon{})
	copy(f.favs[i+1:], f.favs[i:])
	f.favs[i] = fav
	return nil
}

func (f *MemoryFavorites) Remove(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	f.favs = append(f.favs[:i], f.favs[i+1:]...)
	return true, nil
}

func (f *MemoryFavorites) List() ([]FavoriteIcon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FavoriteIcon(nil), f.favs...), nil
}

func (f *MemoryFavorites) indexLocked(id int64) int {
	for i, fav := range f.favs {
		if fav.Id == id {
			return i
		}
	}
	return -1
}

type FavoriteChangeKind string

const (
	FavoriteAdded   FavoriteChangeKind = "added"
	FavoriteRemoved FavoriteChangeKind = "removed"
	FavoriteEvicted FavoriteChangeKind = "evicted"
)

type FavoriteChange struct {
	Kind FavoriteChangeKind
	Id   int64
}

// Favorites applies the capacity policy on top of a FavoritesStore: at the
// limit, the oldest entry is evicted before a new one is inserted. Listeners
// are told about every change after it is stored.
type Favorites struct {
	store FavoritesStore
	limit int
	now   func() time.Time
	log   *logrus.Entry

	mu sync.Mutex

	listenMu  sync.Mutex
	nextId    int
	listeners map[int]func(FavoriteChange)
}

func NewFavorites(store FavoritesStore, limit int) *Favorites {
	if limit <= 0 {
		limit = DefaultFavoritesLimit
	}
	return &Favorites{
		store:     store,
		limit:     limit,
		now:       time.Now,
		log:       newLogger("favorites"),
		listeners: map[int]func(FavoriteChange){},
	}
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (f *Favorites) Subscribe(fn func(FavoriteChange)) func() {
	f.listenMu.Lock()
	defer f.listenMu.Unlock()
	id := f.nextId
	f.nextId++
	f.listeners[id] = fn
	return func() {
		f.listenMu.Lock()
		delete(f.listeners, id)
		f.listenMu.Unlock()
	}
}

func (f *Favorites) notify(changes ...FavoriteChange) {
	f.listenMu.Lock()
	fns := make([]func(FavoriteChange), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.listenMu.Unlock()
	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// IsFavorite treats a store failure as "not a favorite".
func (f *Favorites) IsFavorite(id int64) bool {
	ok, err := f.store.IsFavorite(id)
	if err != nil {
		f.log.WithError(err).WithField("id", id).Error("Favorite lookup failed")
		return false
	}
	return ok
}

func (f *Favorites) List() ([]FavoriteIcon, error) {
	favs, err := f.store.List()
	if err == nil {
		favoritesGauge.Set(float64(len(favs)))
	}
	return favs, err
}

// Mark stores rec as a favorite. Marking an icon that is already a favorite
// does nothing.
func (f *Favorites) Mark(rec IconRecord) error {
	f.mu.Lock()
	var changes []FavoriteChange
	err := func() error {
		exists, err := f.store.IsFavorite(rec.Id)
		if err != nil || exists {
			return err
		}
		favs, err := f.store.List()
		if err != nil {
			return err
		}
		i := 0
		for ; len(favs)-i >= f.limit; i++ {
			oldest := favs[i]
			if _, err := f.store.Remove(oldest.Id); err != nil {
				return err
			}
			f.log.WithField("id", oldest.Id).Info("Evicted oldest favorite")
			changes = append(changes, FavoriteChange{Kind: FavoriteEvicted, Id: oldest.Id})
		}
		if err := f.store.Add(favoriteFromRecord(rec, f.now())); err != nil {
			return err
		}
		changes = append(changes, FavoriteChange{Kind: FavoriteAdded, Id: rec.Id})
		favoritesGauge.Set(float64(len(favs) - i + 1))
		return nil
	}()
	f.mu.Unlock()
	f.notify(changes...)
	return err
}

func (f *Favorites) Unmark(id int64) error {
	f.mu.Lock()
	removed, err := f.store.Remove(id)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if !removed {
		f.log.WithField("id", id).Debug("Icon not found for deletion")
		return nil
	}
	f.notify(FavoriteChange{Kind: FavoriteRemoved, Id: id})
	return nil
}

func (f *Favorites) Annotate(records []IconRecord) []IconView {
	views := make([]IconView, len(records))
	for i, rec := range records {
		views[i] = IconView{IconRecord: rec, Favorite: f.IsFavorite(rec.Id)}
	}
	return views
}
