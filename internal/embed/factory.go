package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Profile selects an embedding backend. The set is closed: config
// validation rejects anything outside it.
type Profile string

const (
	// ProfileStatic uses hash-based token embeddings (offline, no server)
	ProfileStatic Profile = "static"

	// ProfileHTTP uses a late-interaction embedding server
	ProfileHTTP Profile = "http"
)

// ValidProfiles returns all valid profile names.
func ValidProfiles() []string {
	return []string{string(ProfileStatic), string(ProfileHTTP)}
}

// ParseProfile converts a string to a Profile. Unknown names are a
// configuration error, never a silent fallback.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return ProfileStatic, nil
	case "http":
		return ProfileHTTP, nil
	case "":
		return ProfileStatic, nil
	default:
		return "", fmt.Errorf("unknown embedder profile %q (valid: %s)", s, strings.Join(ValidProfiles(), ", "))
	}
}

// String returns the string representation of the profile.
func (p Profile) String() string {
	return string(p)
}

// FactoryConfig carries the embedder settings from the config cascade.
type FactoryConfig struct {
	Profile   Profile
	Endpoint  string
	Model     string
	BatchSize int
	Timeout   time.Duration
	CacheSize int
}

// NewTokenEmbedder creates an embedder for the given profile.
// The QUARRY_EMBEDDER environment variable overrides the profile, and
// QUARRY_EMBED_CACHE=false disables query caching.
func NewTokenEmbedder(ctx context.Context, cfg FactoryConfig) (TokenEmbedder, error) {
	profile := cfg.Profile

	if env := os.Getenv("QUARRY_EMBEDDER"); env != "" {
		parsed, err := ParseProfile(env)
		if err != nil {
			return nil, fmt.Errorf("QUARRY_EMBEDDER: %w", err)
		}
		profile = parsed
	}

	var embedder TokenEmbedder
	switch profile {
	case ProfileStatic, "":
		embedder = NewStaticTokenEmbedder()

	case ProfileHTTP:
		httpCfg := DefaultHTTPConfig()
		if cfg.Endpoint != "" {
			httpCfg.Endpoint = cfg.Endpoint
		}
		if env := os.Getenv("QUARRY_EMBED_ENDPOINT"); env != "" {
			httpCfg.Endpoint = env
		}
		if cfg.Model != "" {
			httpCfg.Model = cfg.Model
		}
		if env := os.Getenv("QUARRY_EMBED_MODEL"); env != "" {
			httpCfg.Model = env
		}
		if cfg.BatchSize > 0 {
			httpCfg.BatchSize = cfg.BatchSize
		}
		if cfg.Timeout > 0 {
			httpCfg.Timeout = cfg.Timeout
		}

		var err error
		embedder, err = NewHTTPTokenEmbedder(ctx, httpCfg)
		if err != nil {
			return nil, fmt.Errorf("http embedder unavailable: %w (start the embedding server, or index with --profile=static)", err)
		}

	default:
		return nil, fmt.Errorf("unknown embedder profile %q (valid: %s)", profile, strings.Join(ValidProfiles(), ", "))
	}

	if !isCacheDisabled() {
		embedder = NewCachedTokenEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("QUARRY_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// EmbedderInfo describes an embedder for status output.
type EmbedderInfo struct {
	Profile    Profile
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder.
func GetInfo(ctx context.Context, embedder TokenEmbedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelTag(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedTokenEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *HTTPTokenEmbedder:
		info.Profile = ProfileHTTP
	default:
		info.Profile = ProfileStatic
	}

	return info
}
