package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func processError(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(2)
}

func main() {
	addUser := flag.String("adduser", "", "create or update an API user given as name:password, then exit")
	flag.Parse()

	var cfg Config
	if err := loadConfig(configPath(), &cfg); err != nil {
		processError(err)
	}
	setupLogging(&cfg)
	log := newLogger("main")

	store := NewStore(&cfg)
	defer store.Close()

	if *addUser != "" {
		name, pass, ok := strings.Cut(*addUser, ":")
		if !ok || name == "" || pass == "" {
			processError(errors.New("-adduser expects name:password"))
		}
		if err := store.AddUser(name, pass, 1); err != nil {
			processError(err)
		}
		log.WithField("user", name).Info("User saved")
		return
	}

	reqCache := NewReqCache(&cfg, store)
	defer reqCache.Close()
	catalog := NewIconCatalogClient(&cfg, reqCache)

	var favStore FavoritesStore = NewSQLFavorites(store, cfg.Favorites.Limit)
	if cfg.Favorites.InMemory {
		favStore = NewMemoryFavorites(cfg.Favorites.Limit)
	}
	favorites := NewFavorites(favStore, cfg.Favorites.Limit)

	loop := NewMainLoop()
	defer loop.Close()

	srv := NewServer(&cfg, catalog, favorites, store, loop)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{"addr": cfg.Listen, "catalog": catalog.Type()}).Info("Starting Server")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server failed")
	}
}
