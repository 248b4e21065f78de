package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// ConfigFileName is the default project config file name, looked for
// in the current working directory.
const ConfigFileName = ".coordsvc.jsonc"

var (
	errLeaseLengthInvalid = errors.New("config: lease_length must be > 0")
	errStorageBackend     = errors.New("config: storage_backend must be \"memory\" or \"badger\"")
	errStoragePathMissing = errors.New("config: storage_path is required when storage_backend is \"badger\"")
	errConfigFileNotFound = errors.New("config: explicit config file not found")
	errConfigFileRead     = errors.New("config: could not read config file")
	errConfigInvalid      = errors.New("config: invalid config file")
)

// Duration is a time.Duration that unmarshals from either a JSON
// string ("30s") or a raw number of nanoseconds, so config files can
// use the readable form.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var asNanos int64
	if err := json.Unmarshal(data, &asNanos); err != nil {
		return fmt.Errorf("config: lease_length must be a duration string or number of nanoseconds: %w", err)
	}
	*d = Duration(asNanos)
	return nil
}

// Config is the participant's full configuration surface
// (SPEC_FULL.md §6.2).
type Config struct {
	LeaseLength     Duration          `json:"lease_length"`
	MultiplexPrefix string            `json:"multiplex_prefix"`
	ListenAddr      string            `json:"listen_addr"`
	PeerDirectory   map[string]string `json:"peer_directory,omitempty"`
	StorageBackend  string            `json:"storage_backend"`
	StoragePath     string            `json:"storage_path,omitempty"`
	MetricsAddr     string            `json:"metrics_addr,omitempty"`
}

// Default returns the built-in defaults (spec.md §6: lease_length 30s,
// multiplex_prefix "coord/").
func Default() Config {
	return Config{
		LeaseLength:     Duration(30 * time.Second),
		MultiplexPrefix: "coord/",
		ListenAddr:      ":0",
		StorageBackend:  "memory",
	}
}

// Sources records which config files contributed to the final Config,
// for diagnostic logging at startup.
type Sources struct {
	Global  string
	Project string
}

func globalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coordsvc", "config.jsonc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "coordsvc", "config.jsonc")
}

// Load resolves Config with the precedence defaults → global →
// project → CLI flags, where a non-empty configPath is loaded in place
// of the project file (which is then not read at all) and must exist
// (flags are bound via BindFlags and applied by the caller after Load
// returns; Load itself handles only the file layers).
func Load(workDir, configPath string) (Config, Sources, error) {
	cfg := Default()
	var sources Sources

	if path := globalConfigPath(); path != "" {
		loaded, found, err := loadFile(path, false)
		if err != nil {
			return Config{}, Sources{}, err
		}
		if found {
			cfg = merge(cfg, loaded)
			sources.Global = path
		}
	}

	projectPath := configPath
	mustExist := projectPath != ""
	if projectPath == "" {
		projectPath = filepath.Join(workDir, ConfigFileName)
	} else if !filepath.IsAbs(projectPath) {
		projectPath = filepath.Join(workDir, projectPath)
	}

	loaded, found, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, Sources{}, err
	}
	if found {
		cfg = merge(cfg, loaded)
		sources.Project = projectPath
	}

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}
	return cfg, sources, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
			}
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("%w: %s: %v", errConfigFileRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %v", errConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %v", errConfigInvalid, path, err)
	}
	return cfg, true, nil
}

// merge overlays every non-zero field of overlay onto base.
func merge(base, overlay Config) Config {
	if overlay.LeaseLength != 0 {
		base.LeaseLength = overlay.LeaseLength
	}
	if overlay.MultiplexPrefix != "" {
		base.MultiplexPrefix = overlay.MultiplexPrefix
	}
	if overlay.ListenAddr != "" {
		base.ListenAddr = overlay.ListenAddr
	}
	if len(overlay.PeerDirectory) > 0 {
		if base.PeerDirectory == nil {
			base.PeerDirectory = make(map[string]string, len(overlay.PeerDirectory))
		}
		for k, v := range overlay.PeerDirectory {
			base.PeerDirectory[k] = v
		}
	}
	if overlay.StorageBackend != "" {
		base.StorageBackend = overlay.StorageBackend
	}
	if overlay.StoragePath != "" {
		base.StoragePath = overlay.StoragePath
	}
	if overlay.MetricsAddr != "" {
		base.MetricsAddr = overlay.MetricsAddr
	}
	return base
}

func validate(cfg Config) error {
	if cfg.LeaseLength <= 0 {
		return errLeaseLengthInvalid
	}
	if cfg.StorageBackend != "memory" && cfg.StorageBackend != "badger" {
		return errStorageBackend
	}
	if cfg.StorageBackend == "badger" && cfg.StoragePath == "" {
		return errStoragePathMissing
	}
	return nil
}

// Flags holds the pflag-bound CLI overrides for cmd/participant.
// BindFlags registers a flag per field and Apply overlays whichever
// were set explicitly on the command line, including ones set to a
// zero value.
type Flags struct {
	fs *flag.FlagSet

	configPath      string
	leaseLength     time.Duration
	multiplexPrefix string
	listenAddr      string
	storageBackend  string
	storagePath     string
	metricsAddr     string
}

// BindFlags registers the configuration overrides on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.configPath, "config", "", "path to a JSONC config file")
	fs.DurationVar(&f.leaseLength, "lease-length", 0, "session lease length (overrides config file)")
	fs.StringVar(&f.multiplexPrefix, "multiplex-prefix", "", "exchange endpoint-name prefix (overrides config file)")
	fs.StringVar(&f.listenAddr, "listen-addr", "", "HTTP transport bind address (overrides config file)")
	fs.StringVar(&f.storageBackend, "storage-backend", "", `"memory" or "badger" (overrides config file)`)
	fs.StringVar(&f.storagePath, "storage-path", "", "badger data directory (overrides config file)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "optional /metrics listener address (overrides config file)")
	return f
}

// ConfigPath returns the --config flag value, for use as Load's
// configPath argument.
func (f *Flags) ConfigPath() string { return f.configPath }

// Apply overlays every flag explicitly set on the command line onto
// cfg, then re-validates.
func (f *Flags) Apply(cfg Config) (Config, error) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "lease-length":
			cfg.LeaseLength = Duration(f.leaseLength)
		case "multiplex-prefix":
			cfg.MultiplexPrefix = f.multiplexPrefix
		case "listen-addr":
			cfg.ListenAddr = f.listenAddr
		case "storage-backend":
			cfg.StorageBackend = f.storageBackend
		case "storage-path":
			cfg.StoragePath = f.storagePath
		case "metrics-addr":
			cfg.MetricsAddr = f.metricsAddr
		}
	})
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PeerBaseURL resolves addr's base URL via cfg's peer_directory by
// longest matching prefix, standing in for the out-of-scope address-
// serialization/service-discovery layer (SPEC_FULL.md §6.2).
func PeerBaseURL(cfg Config, addr string) (string, bool) {
	best := ""
	bestLen := -1
	for prefix, base := range cfg.PeerDirectory {
		if strings.HasPrefix(addr, prefix) && len(prefix) > bestLen {
			best = base
			bestLen = len(prefix)
		}
	}
	return best, bestLen >= 0
}
