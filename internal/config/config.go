// Package config parses the process environment into a plain struct with
// defaults. There is no persistence layer here — the environment contract
// is fixed at startup (see spec §6); settings are not user-editable over
// HTTP the way the teacher's key-value store was.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-derived setting for one server instance.
type Config struct {
	MediaRoot string
	Port      int

	DatabasePath string

	UseSSL                bool
	HTTPSKeyPath          string
	HTTPSCertPath         string
	HTTPSAutoSelfSigned   bool

	CORSOrigin   string
	FFProbePath  string
	FFMpegPath   string
	ThumbCacheDir string
}

// Load reads the environment and returns a validated Config, or an error
// if a required value is missing (e.g. MEDIA_ROOT unset and unreachable).
func Load() (Config, error) {
	cfg := Config{
		MediaRoot:           getEnv("MEDIA_ROOT", "/media"),
		Port:                getEnvInt("PORT", 3000),
		DatabasePath:        getEnv("DATABASE_URL", "mediaviewer.db"),
		UseSSL:              getEnvBool("USE_SSL", false),
		HTTPSKeyPath:        getEnv("HTTPS_KEY_PATH", ""),
		HTTPSCertPath:       getEnv("HTTPS_CERT_PATH", ""),
		HTTPSAutoSelfSigned: getEnvBool("HTTPS_AUTO_SELF_SIGNED", true),
		CORSOrigin:          getEnv("CORS_ORIGIN", "*"),
		FFProbePath:         getEnv("FFPROBE_PATH", "ffprobe"),
		FFMpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		ThumbCacheDir:       getEnv("MV_THUMB_CACHE_DIR", ".mediaviewer-cache"),
	}

	if strings.TrimSpace(cfg.MediaRoot) == "" {
		return Config{}, fmt.Errorf("config: MEDIA_ROOT must not be empty")
	}
	if info, err := os.Stat(cfg.MediaRoot); err != nil || !info.IsDir() {
		return Config{}, fmt.Errorf("config: MEDIA_ROOT %q is not a directory: %w", cfg.MediaRoot, err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvBool coerces the accepted boolean-ish tokens from spec §6:
// 0/1/true/false/yes/no/on/off (case-insensitive).
func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
