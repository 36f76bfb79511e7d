package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected at the root.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is the complete Quarry configuration. Values are resolved in
// order of increasing precedence: built-in defaults, user config, project
// config, environment variables.
type Config struct {
	Version     int               `yaml:"version" toml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" toml:"paths" json:"paths"`
	Chunking    ChunkingConfig    `yaml:"chunking" toml:"chunking" json:"chunking"`
	Search      SearchConfig      `yaml:"search" toml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" toml:"performance" json:"performance"`
	Daemon      DaemonConfig      `yaml:"daemon" toml:"daemon" json:"daemon"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
}

// TelemetryConfig controls local query metrics. Nothing ever leaves
// the machine; disabling only skips the on-disk aggregates.
type TelemetryConfig struct {
	Disabled bool `yaml:"disabled" toml:"disabled" json:"disabled"`
}

// PathsConfig configures which paths to include and exclude when scanning.
type PathsConfig struct {
	Include []string `yaml:"include" toml:"include" json:"include"`
	Exclude []string `yaml:"exclude" toml:"exclude" json:"exclude"`
}

// ChunkingConfig configures how files are split into chunks.
type ChunkingConfig struct {
	// WindowLines is the chunk window size in lines.
	WindowLines int `yaml:"window_lines" toml:"window_lines" json:"window_lines"`
	// OverlapLines is how many lines consecutive chunks share.
	OverlapLines int `yaml:"overlap_lines" toml:"overlap_lines" json:"overlap_lines"`
	// MaxFileSizeKB caps the size of files picked up by the scanner.
	MaxFileSizeKB int `yaml:"max_file_size_kb" toml:"max_file_size_kb" json:"max_file_size_kb"`
}

// SearchConfig configures hybrid search behaviour.
type SearchConfig struct {
	// SemanticWeight is the fusion weight for the MaxSim leg (0.0-1.0).
	// Must sum to 1.0 with LexicalWeight.
	SemanticWeight float64 `yaml:"semantic_weight" toml:"semantic_weight" json:"semantic_weight"`

	// LexicalWeight is the fusion weight for the keyword leg (0.0-1.0).
	LexicalWeight float64 `yaml:"lexical_weight" toml:"lexical_weight" json:"lexical_weight"`

	// RRFConstant is the reciprocal rank fusion smoothing parameter (k).
	// Higher values flatten the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" toml:"rrf_constant" json:"rrf_constant"`

	// LexicalBackend selects the keyword index. Options: "fts5" (default,
	// lives inside the project database) or "bleve" (separate on-disk index).
	LexicalBackend string `yaml:"lexical_backend" toml:"lexical_backend" json:"lexical_backend"`

	// MaxResults is the default result count when the caller passes none.
	MaxResults int `yaml:"max_results" toml:"max_results" json:"max_results"`

	// MinScore is the semantic relevance floor: MaxSim candidates
	// scoring below it are dropped instead of padding out the nearest
	// neighbours. Negative disables the floor.
	MinScore float64 `yaml:"min_score" toml:"min_score" json:"min_score"`

	// PrefilterThreshold is the live chunk count above which the centroid
	// prefilter activates. Below it every chunk is scored.
	PrefilterThreshold int `yaml:"prefilter_threshold" toml:"prefilter_threshold" json:"prefilter_threshold"`

	// PrefilterMultiple scales the candidate set: the prefilter keeps
	// PrefilterMultiple * limit chunks for exact MaxSim scoring.
	PrefilterMultiple int `yaml:"prefilter_multiple" toml:"prefilter_multiple" json:"prefilter_multiple"`
}

// EmbeddingsConfig configures the token embedding provider.
type EmbeddingsConfig struct {
	// Profile selects the embedder. Options: "static" (offline,
	// deterministic) or "http" (late-interaction embedding server).
	Profile string `yaml:"profile" toml:"profile" json:"profile"`

	// Model names the embedding model. For the static profile it is
	// derived automatically and this field is ignored.
	Model string `yaml:"model" toml:"model" json:"model"`

	// Dimensions is the per-token vector width. Zero means the profile
	// default (static: 128; http: reported by the server).
	Dimensions int `yaml:"dimensions" toml:"dimensions" json:"dimensions"`

	// BatchSize is how many chunks are embedded per provider call.
	BatchSize int `yaml:"batch_size" toml:"batch_size" json:"batch_size"`

	// Endpoint is the HTTP embedding server base URL (http profile only).
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`

	// RequestsPerSecond rate-limits calls to the embedding server.
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`

	// MaxConcurrent bounds in-flight embedding requests. The model host
	// serializes on its own hardware; this keeps queueing client-side.
	MaxConcurrent int `yaml:"max_concurrent" toml:"max_concurrent" json:"max_concurrent"`

	// RequestTimeout is the per-request timeout, e.g. "30s".
	RequestTimeout string `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`

	// CacheSize is the LRU entry count for embedded-text reuse.
	CacheSize int `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
}

// PerformanceConfig configures indexing and watching throughput knobs.
type PerformanceConfig struct {
	MaxFiles      int    `yaml:"max_files" toml:"max_files" json:"max_files"`
	IndexWorkers  int    `yaml:"index_workers" toml:"index_workers" json:"index_workers"`
	WatchDebounce string `yaml:"watch_debounce" toml:"watch_debounce" json:"watch_debounce"`
	PollInterval  string `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" toml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// DaemonConfig configures the resident daemon.
type DaemonConfig struct {
	// SocketPath is the Unix socket the daemon listens on.
	// Empty means ~/.quarry/daemon.sock.
	SocketPath string `yaml:"socket_path" toml:"socket_path" json:"socket_path"`

	// LogLevel is the daemon log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// IdleTimeout is how long a project goes unqueried before the daemon
	// stops watching it, e.g. "10m".
	IdleTimeout string `yaml:"idle_timeout" toml:"idle_timeout" json:"idle_timeout"`

	// MaxProjects caps concurrently loaded projects; beyond it the least
	// recently used project is unloaded.
	MaxProjects int `yaml:"max_projects" toml:"max_projects" json:"max_projects"`

	// MaintenanceInterval is the period of the tombstone purge and WAL
	// checkpoint loop, e.g. "5m".
	MaintenanceInterval string `yaml:"maintenance_interval" toml:"maintenance_interval" json:"maintenance_interval"`
}

// defaultExcludePatterns are always excluded from indexing.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.quarry/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/target/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
	"**/Cargo.lock",
}

// NewConfig creates a Config populated with the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Chunking: ChunkingConfig{
			WindowLines:   40,
			OverlapLines:  8,
			MaxFileSizeKB: 1024,
		},
		Search: SearchConfig{
			SemanticWeight: 0.65,
			LexicalWeight:  0.35,
			// k=60 is the standard RRF smoothing constant.
			RRFConstant:        60,
			LexicalBackend:     "fts5",
			MaxResults:         20,
			MinScore:           0.15,
			PrefilterThreshold: 5000,
			PrefilterMultiple:  4,
		},
		Embeddings: EmbeddingsConfig{
			Profile:           "static",
			Model:             "",
			Dimensions:        0,
			BatchSize:         32,
			Endpoint:          "",
			RequestsPerSecond: 8,
			MaxConcurrent:     2,
			RequestTimeout:    "30s",
			CacheSize:         2048,
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			IndexWorkers:  runtime.NumCPU(),
			WatchDebounce: "200ms",
			PollInterval:  "5s",
			SQLiteCacheMB: 64,
		},
		Daemon: DaemonConfig{
			SocketPath:          "",
			LogLevel:            "info",
			IdleTimeout:         "10m",
			MaxProjects:         8,
			MaintenanceInterval: "5m",
		},
	}
}

// GetUserConfigPath returns the user configuration file path, following
// the XDG base directory layout. When both a yaml and a toml file exist
// the yaml one wins.
func GetUserConfigPath() string {
	dir := userConfigDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	if fileExists(yamlPath) {
		return yamlPath
	}
	tomlPath := filepath.Join(dir, "config.toml")
	if fileExists(tomlPath) {
		return tomlPath
	}
	return yamlPath
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quarry")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "quarry")
	}
	return filepath.Join(home, ".config", "quarry")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return userConfigDir()
}

// UserConfigExists reports whether a user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration if present. A missing file
// is not an error.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the configuration for a project directory. Precedence,
// lowest to highest:
//  1. Built-in defaults
//  2. User config ($XDG_CONFIG_HOME/quarry/config.{yaml,toml})
//  3. Project config (.quarry.{yaml,yml,toml} in dir)
//  4. Environment variables (QUARRY_*, with a project .env loaded first)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadProjectFile(dir); err != nil {
		return nil, err
	}

	// A project .env never overrides variables already set in the
	// environment, so real env vars keep the highest precedence.
	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		_ = godotenv.Load(envPath)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// projectConfigNames are checked in order; the first hit wins.
var projectConfigNames = []string{".quarry.yaml", ".quarry.yml", ".quarry.toml"}

// loadProjectFile merges the project config file into c if one exists.
func (c *Config) loadProjectFile(dir string) error {
	for _, name := range projectConfigNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadFile(path)
		}
	}
	return nil
}

// loadFile reads a config file and merges its non-zero values into c.
// The decoder is chosen by extension: .toml uses TOML, everything else YAML.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// User excludes extend the defaults rather than replace them.
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Chunking.WindowLines != 0 {
		c.Chunking.WindowLines = other.Chunking.WindowLines
	}
	if other.Chunking.OverlapLines != 0 {
		c.Chunking.OverlapLines = other.Chunking.OverlapLines
	}
	if other.Chunking.MaxFileSizeKB != 0 {
		c.Chunking.MaxFileSizeKB = other.Chunking.MaxFileSizeKB
	}

	// Zero is not a practical weight, so zero means "not set" here.
	// Explicit zero weights are still reachable through env vars.
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.LexicalWeight != 0 {
		c.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.LexicalBackend != "" {
		c.Search.LexicalBackend = other.Search.LexicalBackend
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.PrefilterThreshold != 0 {
		c.Search.PrefilterThreshold = other.Search.PrefilterThreshold
	}
	if other.Search.PrefilterMultiple != 0 {
		c.Search.PrefilterMultiple = other.Search.PrefilterMultiple
	}

	if other.Embeddings.Profile != "" {
		c.Embeddings.Profile = other.Embeddings.Profile
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.RequestsPerSecond != 0 {
		c.Embeddings.RequestsPerSecond = other.Embeddings.RequestsPerSecond
	}
	if other.Embeddings.MaxConcurrent != 0 {
		c.Embeddings.MaxConcurrent = other.Embeddings.MaxConcurrent
	}
	if other.Embeddings.RequestTimeout != "" {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}
	if other.Performance.PollInterval != "" {
		c.Performance.PollInterval = other.Performance.PollInterval
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.LogLevel != "" {
		c.Daemon.LogLevel = other.Daemon.LogLevel
	}
	if other.Daemon.IdleTimeout != "" {
		c.Daemon.IdleTimeout = other.Daemon.IdleTimeout
	}
	if other.Daemon.MaxProjects != 0 {
		c.Daemon.MaxProjects = other.Daemon.MaxProjects
	}
	if other.Daemon.MaintenanceInterval != "" {
		c.Daemon.MaintenanceInterval = other.Daemon.MaintenanceInterval
	}
	if other.Telemetry.Disabled {
		c.Telemetry.Disabled = true
	}
}

// applyEnvOverrides applies QUARRY_* environment variable overrides.
// Env vars can set explicit zero weights, which files cannot.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QUARRY_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("QUARRY_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("QUARRY_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("QUARRY_LEXICAL_BACKEND"); v != "" {
		c.Search.LexicalBackend = v
	}
	if v := os.Getenv("QUARRY_EMBEDDER"); v != "" {
		c.Embeddings.Profile = v
	}
	if v := os.Getenv("QUARRY_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("QUARRY_EMBED_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		c.Daemon.LogLevel = v
	}
	if v := os.Getenv("QUARRY_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("QUARRY_WATCH_DEBOUNCE"); v != "" {
		c.Performance.WatchDebounce = v
	}
	if v := os.Getenv("QUARRY_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.IndexWorkers = n
		}
	}
	if v := os.Getenv("QUARRY_TELEMETRY_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Disabled = b
		}
	}
}

// Validate checks the resolved configuration. Enumerated fields are
// closed sets: an unknown value is an error, not a fallback.
func (c *Config) Validate() error {
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if c.Search.LexicalWeight < 0 || c.Search.LexicalWeight > 1 {
		return fmt.Errorf("lexical_weight must be between 0 and 1, got %f", c.Search.LexicalWeight)
	}
	sum := c.Search.SemanticWeight + c.Search.LexicalWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("semantic_weight + lexical_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	switch strings.ToLower(c.Search.LexicalBackend) {
	case "fts5", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be 'fts5' or 'bleve', got %s", c.Search.LexicalBackend)
	}

	switch strings.ToLower(c.Embeddings.Profile) {
	case "static", "http":
	default:
		return fmt.Errorf("embeddings.profile must be 'static' or 'http', got %s", c.Embeddings.Profile)
	}
	if strings.EqualFold(c.Embeddings.Profile, "http") && c.Embeddings.Endpoint == "" {
		return fmt.Errorf("embeddings.endpoint is required when embeddings.profile is 'http'")
	}

	if c.Chunking.WindowLines <= 0 {
		return fmt.Errorf("chunking.window_lines must be positive, got %d", c.Chunking.WindowLines)
	}
	if c.Chunking.OverlapLines < 0 || c.Chunking.OverlapLines >= c.Chunking.WindowLines {
		return fmt.Errorf("chunking.overlap_lines must be in [0, window_lines), got %d", c.Chunking.OverlapLines)
	}

	if _, err := time.ParseDuration(c.Performance.WatchDebounce); err != nil {
		return fmt.Errorf("performance.watch_debounce is not a duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Performance.PollInterval); err != nil {
		return fmt.Errorf("performance.poll_interval is not a duration: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Daemon.LogLevel)] {
		return fmt.Errorf("daemon.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Daemon.LogLevel)
	}
	if c.Daemon.MaxProjects <= 0 {
		return fmt.Errorf("daemon.max_projects must be positive, got %d", c.Daemon.MaxProjects)
	}
	if _, err := time.ParseDuration(c.Daemon.IdleTimeout); err != nil {
		return fmt.Errorf("daemon.idle_timeout is not a duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Daemon.MaintenanceInterval); err != nil {
		return fmt.Errorf("daemon.maintenance_interval is not a duration: %w", err)
	}

	return nil
}

// WatchDebounce returns the parsed debounce window. Validate guarantees
// the field parses, so errors collapse to the default.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Performance.WatchDebounce)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// IdleTimeout returns the parsed daemon idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Daemon.IdleTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// MaintenanceInterval returns the parsed daemon maintenance interval.
func (c *Config) MaintenanceInterval() time.Duration {
	d, err := time.ParseDuration(c.Daemon.MaintenanceInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// EmbedRequestTimeout returns the parsed embedding request timeout.
func (c *Config) EmbedRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embeddings.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// PollInterval returns the parsed watcher polling interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Performance.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// DetectProjectType detects the project type from marker files.
// Priority: go.mod > Cargo.toml > package.json > pyproject.toml.
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "Cargo.toml")) {
		return ProjectTypeRust
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// a project config file. Falls back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		for _, name := range projectConfigNames {
			if fileExists(filepath.Join(currentDir, name)) {
				return currentDir, nil
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs lists common source directories present in dir,
// used to seed paths.include when generating a project config.
func DiscoverSourceDirs(dir string) []string {
	candidates := []string{"src", "lib", "pkg", "internal", "cmd", "app"}

	var found []string
	for _, d := range candidates {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}
	return found
}

// DiscoverDocsDirs lists documentation directories and the README in dir.
func DiscoverDocsDirs(dir string) []string {
	var found []string
	for _, d := range []string{"docs", "doc"} {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}
	for _, f := range []string{"README.md", "readme.md"} {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}
	return found
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns the string form of the project type.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown reports whether the project type was recognized.
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults fills fields added since the config was written,
// preserving existing values. Returns the dotted names of added fields.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.SemanticWeight == 0 {
		c.Search.SemanticWeight = defaults.Search.SemanticWeight
		added = append(added, "search.semantic_weight")
	}
	if c.Search.LexicalWeight == 0 {
		c.Search.LexicalWeight = defaults.Search.LexicalWeight
		added = append(added, "search.lexical_weight")
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}
	if c.Search.PrefilterThreshold == 0 {
		c.Search.PrefilterThreshold = defaults.Search.PrefilterThreshold
		added = append(added, "search.prefilter_threshold")
	}
	if c.Search.PrefilterMultiple == 0 {
		c.Search.PrefilterMultiple = defaults.Search.PrefilterMultiple
		added = append(added, "search.prefilter_multiple")
	}
	if c.Embeddings.CacheSize == 0 {
		c.Embeddings.CacheSize = defaults.Embeddings.CacheSize
		added = append(added, "embeddings.cache_size")
	}
	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}
	if c.Daemon.MaxProjects == 0 {
		c.Daemon.MaxProjects = defaults.Daemon.MaxProjects
		added = append(added, "daemon.max_projects")
	}
	if c.Daemon.IdleTimeout == "" {
		c.Daemon.IdleTimeout = defaults.Daemon.IdleTimeout
		added = append(added, "daemon.idle_timeout")
	}
	if c.Daemon.MaintenanceInterval == "" {
		c.Daemon.MaintenanceInterval = defaults.Daemon.MaintenanceInterval
		added = append(added, "daemon.maintenance_interval")
	}

	return added
}
