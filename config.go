package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigFile string = "conf/config.json"

type Config struct {
	Listen     string `json:"listen" env:"FINDICON_LISTEN" env-default:":8081"`
	Database   string `json:"database" env:"FINDICON_DATABASE" env-default:"data/cache.db"`
	Iconfinder struct {
		BaseUrl   string  `json:"baseUrl" env:"FINDICON_ICONFINDER_URL" env-default:"https://api.iconfinder.com/v4/icons/search"`
		Token     string  `json:"token" env:"FINDICON_ICONFINDER_TOKEN"`
		Timeout   int     `json:"timeout" env:"FINDICON_ICONFINDER_TIMEOUT" env-default:"10"`
		RateLimit float64 `json:"rateLimit" env:"FINDICON_ICONFINDER_RATE"`
		Burst     int     `json:"burst" env:"FINDICON_ICONFINDER_BURST" env-default:"1"`
	} `json:"iconfinder"`
	Cache struct {
		TTL        int `json:"ttl" env:"FINDICON_CACHE_TTL" env-default:"86400"`
		MemEntries int `json:"memEntries" env:"FINDICON_CACHE_MEM" env-default:"256"`
	} `json:"cache"`
	Search struct {
		PageSize    int `json:"pageSize" env:"FINDICON_PAGE_SIZE" env-default:"25"`
		Debounce    int `json:"debounce" env:"FINDICON_DEBOUNCE"`
		SessionIdle int `json:"sessionIdle" env:"FINDICON_SESSION_IDLE" env-default:"1800"`
	} `json:"search"`
	Favorites struct {
		Limit    int  `json:"limit" env:"FINDICON_FAVORITES_LIMIT" env-default:"10"`
		InMemory bool `json:"inMemory" env:"FINDICON_FAVORITES_IN_MEMORY"`
	} `json:"favorites"`
	Auth struct {
		Enabled bool `json:"enabled" env:"FINDICON_AUTH"`
	} `json:"auth"`
	Log struct {
		Level string `json:"level" env:"FINDICON_LOG_LEVEL" env-default:"info"`
	} `json:"log"`
	Debug struct {
		PrettyJson bool `json:"prettyJson"`
	} `json:"debug"`
}

func (cfg *Config) CatalogTimeout() time.Duration {
	return time.Duration(cfg.Iconfinder.Timeout) * time.Second
}

func (cfg *Config) CacheTTL() time.Duration {
	return time.Duration(cfg.Cache.TTL) * time.Second
}

func (cfg *Config) Debounce() time.Duration {
	return time.Duration(cfg.Search.Debounce) * time.Millisecond
}

func (cfg *Config) SessionIdle() time.Duration {
	return time.Duration(cfg.Search.SessionIdle) * time.Second
}

func configPath() string {
	if p := os.Getenv("FINDICON_CONFIG"); p != "" {
		return p
	}
	return defaultConfigFile
}

// loadConfig decodes the JSON file at path, when present, then overlays the
// environment and fills defaults.
func loadConfig(path string, cfg *Config) error {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		defer f.Close()
		if err := decodeConfig(f, cfg); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to overlay env: %w", err)
	}
	return nil
}

func decodeConfig(r io.ReadSeeker, cfg *Config) error {
	decoder := json.NewDecoder(r)
	err := decoder.Decode(cfg)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		if _, serr := r.Seek(0, io.SeekStart); serr != nil {
			return err
		}
		pos := findPos(bufio.NewReader(r), int(syntaxErr.Offset))
		return fmt.Errorf("unable to decode configuration file (Line: %d, Pos: %d): %w", pos.line, pos.pos, err)
	}
	return err
}

type FilePos struct {
	line int
	pos  int
}

// findPos turns a byte offset into a 1-based line and the offset within it.
func findPos(file *bufio.Reader, offset int) FilePos {
	p := FilePos{line: 1, pos: offset}
	for {
		line, _ := file.ReadBytes('\n')
		if len(line) == 0 || p.pos < len(line) || line[len(line)-1] != '\n' {
			return p
		}
		p.line += 1
		p.pos -= len(line)
	}
}
