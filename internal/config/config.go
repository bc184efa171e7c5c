// Package config loads operator configuration for the onering binary.
//
// Values are resolved in this order, first non-empty wins:
//  1. ONERING_<KEY> environment variables (a .env file is loaded first and
//     never overrides variables already set)
//  2. the YAML file named by CONFIG_FILE, or config/config-<CONFIG_PHASE>.yaml
//  3. built-in defaults
//
// Nested YAML keys are flattened to upper-case underscore form, so
//
//	log:
//	  level: debug
//
// is looked up as LOG_LEVEL and overridden by ONERING_LOG_LEVEL.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Onering/internal/types"
)

// EnvPrefix is prepended to every key when reading the environment.
const EnvPrefix = "ONERING_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// ErrInvalidConfig is returned when a configured value cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// LogConfig selects how the process logs.
type LogConfig struct {
	Level    string // debug|info|warn|error
	Format   string // text|json
	Output   string // console|file|both
	FilePath string
}

// RPCConfig configures the JSON-RPC server started by serve.
type RPCConfig struct {
	Addr string

	// URLs are the servers remote commands talk to. Defaults to Addr.
	URLs []string

	// CORSOrigins lists allowed browser origins. Empty allows every origin.
	CORSOrigins []string
	LogRequests bool
}

// Config is the resolved operator configuration.
type Config struct {
	Phase string

	// DataDir is the root for every on-disk artifact.
	DataDir string

	// Backend is the account store: memory or badger.
	Backend      string
	AccountsPath string

	JournalPath    string
	JournalRetain  uint64
	JournalNoSync  bool
	SnapshotDir    string
	ProgramID      types.Pubkey
	ComputeLimit   uint64
	BadgerInMemory bool

	RPC RPCConfig
	Log LogConfig
}

type loader struct {
	values map[string]string
}

// Load reads .env, the phase YAML file and the environment.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
	if phase == "" {
		phase = "local"
	}
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = filepath.Join("config", fmt.Sprintf("config-%s.yaml", phase))
	}

	values, err := readYAML(path, explicit)
	if err != nil {
		return nil, err
	}
	l := &loader{values: values}
	return l.build(phase)
}

func loadDotEnv() error {
	file := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func readYAML(path string, explicit bool) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string)
	flattenConfig("", raw, out)
	return out, nil
}

func flattenConfig(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			seg := normalizeKeySegment(k)
			if seg == "" {
				continue
			}
			if prefix != "" {
				seg = prefix + "_" + seg
			}
			flattenConfig(seg, v[k], out)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprint(v)
		}
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func (l *loader) value(key string) string {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		return v
	}
	return strings.TrimSpace(l.values[key])
}

func (l *loader) string(key, fallback string) string {
	if v := l.value(key); v != "" {
		return v
	}
	return fallback
}

func (l *loader) bool(key string, fallback bool) (bool, error) {
	v := l.value(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
	}
	return b, nil
}

func (l *loader) uint(key string, fallback uint64) (uint64, error) {
	v := l.value(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
	}
	return n, nil
}

// list splits a comma separated value. YAML sequences arrive joined.
func (l *loader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(l.value(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *loader) path(key, fallback string) (string, error) {
	p, err := expandHomePath(l.string(key, fallback))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return p, nil
}

func (l *loader) build(phase string) (*Config, error) {
	cfg := &Config{Phase: phase}
	var err error

	if cfg.DataDir, err = l.path("DATA_DIR", "~/.onering"); err != nil {
		return nil, err
	}
	cfg.Backend = strings.ToLower(l.string("STORE_BACKEND", BackendBadger))
	if cfg.Backend != BackendMemory && cfg.Backend != BackendBadger {
		return nil, fmt.Errorf("%w: STORE_BACKEND=%q (want memory or badger)", ErrInvalidConfig, cfg.Backend)
	}
	if cfg.AccountsPath, err = l.path("STORE_PATH", filepath.Join(cfg.DataDir, "accounts")); err != nil {
		return nil, err
	}
	if cfg.BadgerInMemory, err = l.bool("STORE_IN_MEMORY", false); err != nil {
		return nil, err
	}

	if cfg.JournalPath, err = l.path("JOURNAL_PATH", filepath.Join(cfg.DataDir, "journal.db")); err != nil {
		return nil, err
	}
	if cfg.JournalRetain, err = l.uint("JOURNAL_RETAIN", 0); err != nil {
		return nil, err
	}
	if cfg.JournalNoSync, err = l.bool("JOURNAL_NO_SYNC", false); err != nil {
		return nil, err
	}
	if cfg.SnapshotDir, err = l.path("SNAPSHOT_DIR", filepath.Join(cfg.DataDir, "snapshots")); err != nil {
		return nil, err
	}

	cfg.ProgramID = types.OneringProgramAddr
	if v := l.value("PROGRAM_ID"); v != "" {
		if cfg.ProgramID, err = types.PubkeyFromBase58(v); err != nil {
			return nil, fmt.Errorf("%w: PROGRAM_ID: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.ComputeLimit, err = l.uint("COMPUTE_LIMIT", 0); err != nil {
		return nil, err
	}

	cfg.RPC.Addr = l.string("RPC_ADDR", "127.0.0.1:8899")
	cfg.RPC.CORSOrigins = l.list("RPC_CORS_ORIGINS")
	cfg.RPC.URLs = l.list("RPC_URLS")
	if len(cfg.RPC.URLs) == 0 {
		cfg.RPC.URLs = []string{dialURL(cfg.RPC.Addr)}
	}
	if cfg.RPC.LogRequests, err = l.bool("RPC_LOG_REQUESTS", false); err != nil {
		return nil, err
	}

	cfg.Log = LogConfig{
		Level:  strings.ToLower(l.string("LOG_LEVEL", "info")),
		Format: strings.ToLower(l.string("LOG_FORMAT", "text")),
		Output: strings.ToLower(l.string("LOG_OUTPUT", "console")),
	}
	if cfg.Log.FilePath, err = l.path("LOG_FILE_PATH", filepath.Join(cfg.DataDir, "logs", "onering.log")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dialURL turns a listen address into a URL a local client can reach.
func dialURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func expandHomePath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}
