package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidKey = errors.New("storage key is empty")
)

// Config configures storage.
//
// Driver values: "file", "sqlite", "redis", "memory".
// If Driver is empty or "none", Open returns a memory store so the core still
// has a place to mirror state (nothing survives a restart).
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal writes between compactions
	Redis        RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // default "nudgebot:"
}
