// Package config builds runtime configuration from the environment with an
// optional YAML file overlay, so main stays lean and services never read
// ambient globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Server captures all configuration the fulfillment service needs at startup.
// The manifest signing material is passed explicitly into the signer at
// construction time; nothing reads it from the environment after boot.
type Server struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`

	// DatabaseURL selects the PostgreSQL stores when set; empty means
	// in-memory stores (development and tests).
	DatabaseURL string `yaml:"database_url"`

	// RedisAddr enables the Redis report-fingerprint log when set.
	RedisAddr string `yaml:"redis_addr"`

	// BlobDir selects the filesystem blob store for export bundles when set;
	// empty means the in-memory store.
	BlobDir string `yaml:"blob_dir"`

	// ManifestMasterKey seeds the signing keyring. ManifestKeyIDs lists the
	// key versions to derive, oldest first; the last entry signs new
	// manifests, all entries verify.
	ManifestMasterKey string   `yaml:"manifest_master_key"`
	ManifestKeyIDs    []string `yaml:"manifest_key_ids"`

	// AdminActors lists actor UUIDs allowed to trigger fulfillment
	// operations.
	AdminActors []string `yaml:"admin_actors"`

	// DevMode permits running without the secrets set, substituting
	// development defaults. Never enable it in production.
	DevMode bool `yaml:"dev_mode"`
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:              envOr("COURSECERT_ADDR", ":8080"),
		AdminToken:        os.Getenv("COURSECERT_ADMIN_TOKEN"),
		DatabaseURL:       os.Getenv("COURSECERT_DATABASE_URL"),
		RedisAddr:         os.Getenv("COURSECERT_REDIS_ADDR"),
		BlobDir:           os.Getenv("COURSECERT_BLOB_DIR"),
		ManifestMasterKey: os.Getenv("COURSECERT_MANIFEST_MASTER_KEY"),
	}
	if raw := os.Getenv("COURSECERT_MANIFEST_KEY_IDS"); raw != "" {
		cfg.ManifestKeyIDs = splitList(raw)
	}
	if raw := os.Getenv("COURSECERT_ADMIN_ACTORS"); raw != "" {
		cfg.AdminActors = splitList(raw)
	}
	if raw := os.Getenv("COURSECERT_DEV_MODE"); raw != "" {
		cfg.DevMode, _ = strconv.ParseBool(raw)
	}
	if len(cfg.ManifestKeyIDs) == 0 {
		cfg.ManifestKeyIDs = []string{"v1"}
	}
	return cfg
}

// Validate rejects a deploy with missing secrets. A silent fallback here
// would sign manifests with a key anyone can read out of the source, so
// defaults exist only behind the explicit dev-mode switch.
func (cfg *Server) Validate() error {
	if cfg.DevMode {
		if cfg.AdminToken == "" {
			cfg.AdminToken = "dev-admin-token"
		}
		if cfg.ManifestMasterKey == "" {
			cfg.ManifestMasterKey = "dev-manifest-key"
		}
		return nil
	}
	if cfg.AdminToken == "" {
		return fmt.Errorf("COURSECERT_ADMIN_TOKEN is required outside dev mode")
	}
	if cfg.ManifestMasterKey == "" {
		return fmt.Errorf("COURSECERT_MANIFEST_MASTER_KEY is required outside dev mode")
	}
	return nil
}

// ApplyFile overlays a YAML config file onto cfg. Missing file is not an
// error so the same binary runs with or without one.
func (cfg *Server) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
