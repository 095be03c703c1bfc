// Package hconfig is the ambient configuration layer: a YAML document
// loaded from the first of several candidate locations, lower-cased and
// env-override-merged, mutex-guarded for concurrent access, and
// persisted back to whichever location it was loaded from (or the first
// writable candidate, for the embedded default). Grounded on the
// teacher's upnp.Config (upnp/config.go), generalized from its
// pmomusic-specific env var/file names to this module's own.
package hconfig

import (
	_ "embed"
	"fmt"
	"os"
	"os/user"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/coissac-labs/halyard/fileutils"
)

//go:embed default.yaml
var defaultConfig []byte

// Config is a loaded, mutable configuration document.
type Config struct {
	path   string
	mu     sync.Mutex
	values map[string]interface{}
}

const envConfigFile = "HALYARD_CONFIG"
const envPrefix = "HALYARD_CONFIG__"
const homeConfigName = ".halyard.yml"
const localConfigName = ".halyard.yml"

// Load reads a configuration document, trying in order: filename (if
// non-empty), the file named by the HALYARD_CONFIG environment variable,
// ./.halyard.yml, $HOME/.halyard.yml, and finally the embedded default.
// Environment variables of the form HALYARD_CONFIG__A__B=value override
// the "a.b" key after loading. The resulting Config is saved back to
// wherever it was loaded from, or the first writable candidate location
// if it came from the embedded default.
func Load(filename string) *Config {
	cfg := &Config{}

	data, loadedFrom := readFirst(filename)

	if err := yaml.Unmarshal(data, &cfg.values); err != nil {
		log.Panicf("hconfig: invalid YAML config: %v", err)
	}
	cfg.values = lowerKeysMap(cfg.values)
	cfg.applyEnvOverrides()

	cfg.path = choosePersistLocation(filename, loadedFrom)
	if cfg.path == "" {
		log.Panic("hconfig: no writable location to store the config file")
	}
	log.Infof("hconfig: config will be persisted to %s", cfg.path)

	if err := cfg.save(); err != nil {
		log.Warnf("hconfig: could not persist config to %s: %v", cfg.path, err)
	}
	return cfg
}

func readFirst(filename string) (data []byte, loadedFrom string) {
	candidates := []string{filename, os.Getenv(envConfigFile), localConfigName, homeYmlPath()}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err == nil {
			log.Infof("hconfig: loaded config from %s", path)
			return data, path
		}
		log.Warnf("hconfig: cannot read config file %s", path)
	}
	log.Infof("hconfig: using the embedded default config")
	return defaultConfig, ""
}

func choosePersistLocation(filename, loadedFrom string) string {
	if loadedFrom != "" {
		if fileutils.IsWriteable(loadedFrom) {
			return loadedFrom
		}
		return ""
	}
	for _, path := range []string{filename, os.Getenv(envConfigFile), localConfigName, homeYmlPath()} {
		if path != "" && fileutils.IsWriteable(path) {
			return path
		}
	}
	return ""
}

func homeYmlPath() string {
	usr, err := user.Current()
	if err != nil {
		log.Warnf("hconfig: cannot determine home directory: %v", err)
		return ""
	}
	return path.Join(usr.HomeDir, homeConfigName)
}

func (cfg *Config) save() error {
	data, err := yaml.Marshal(cfg.values)
	if err != nil {
		return err
	}
	return os.WriteFile(cfg.path, data, 0644)
}

// Save re-serializes and writes the config to its persist location.
func (cfg *Config) Save() error {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	return cfg.save()
}

// GetValue looks up the value at the given dotted key path, lower-cased.
func (cfg *Config) GetValue(keyPath []string) (interface{}, error) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	current := cfg.values
	for i, key := range keyPath {
		key = strings.ToLower(key)
		next, ok := current[key]
		if !ok {
			return nil, fmt.Errorf("hconfig: path %s does not exist", strings.Join(keyPath[:i+1], "."))
		}
		if i == len(keyPath)-1 {
			return next, nil
		}
		current, ok = next.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("hconfig: path %s is not a map", strings.Join(keyPath[:i+1], "."))
		}
	}
	return nil, fmt.Errorf("hconfig: empty path")
}

// SetValue sets the value at the given dotted key path and persists it.
func (cfg *Config) SetValue(keyPath []string, value interface{}) {
	cfg.mu.Lock()
	setValueLocked(cfg.values, keyPath, value)
	cfg.mu.Unlock()
	if err := cfg.Save(); err != nil {
		log.Warnf("hconfig: could not persist config: %v", err)
	}
}

func setValueLocked(m map[string]interface{}, keyPath []string, value interface{}) {
	current := m
	for i, key := range keyPath {
		key = strings.ToLower(key)
		if i == len(keyPath)-1 {
			current[key] = value
			return
		}
		next, ok := current[key].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[key] = next
		}
		current = next
	}
}

func (cfg *Config) applyEnvOverrides() {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyPath := strings.Split(strings.TrimPrefix(parts[0], envPrefix), "__")
		setValueLocked(cfg.values, keyPath, scalarFromEnv(parts[1]))
	}
}

func scalarFromEnv(s string) interface{} {
	var out interface{}
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}

func lowerKeysMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		lk := strings.ToLower(k)
		if nested, ok := v.(map[string]interface{}); ok {
			out[lk] = lowerKeysMap(nested)
		} else {
			out[lk] = v
		}
	}
	return out
}

// GetBaseURL returns host.base_url, or "" if unset or of the wrong type.
func (cfg *Config) GetBaseURL() string {
	v, _ := cfg.GetValue([]string{"host", "base_url"})
	s, _ := v.(string)
	return s
}

// GetBindIP returns host.bind_ip, or "" if unset or of the wrong type.
func (cfg *Config) GetBindIP() string {
	v, _ := cfg.GetValue([]string{"host", "bind_ip"})
	s, _ := v.(string)
	return s
}

// GetHTTPPort returns host.http_port, defaulting to 1900 if unset or of
// the wrong type.
func (cfg *Config) GetHTTPPort() int {
	v, _ := cfg.GetValue([]string{"host", "http_port"})
	if port, ok := v.(int); ok {
		return port
	}
	return 1900
}

// GetACLEnabled returns acl.enabled, defaulting to false.
func (cfg *Config) GetACLEnabled() bool {
	v, _ := cfg.GetValue([]string{"acl", "enabled"})
	b, _ := v.(bool)
	return b
}

// GetLogLevel returns logging.level, defaulting to "info".
func (cfg *Config) GetLogLevel() string {
	v, _ := cfg.GetValue([]string{"logging", "level"})
	s, ok := v.(string)
	if !ok || s == "" {
		return "info"
	}
	return s
}

// GetDeviceUDN returns the persisted UDN for devices.<category>.<name>,
// generating and saving a fresh one on first use.
func (cfg *Config) GetDeviceUDN(category, name string) string {
	v, err := cfg.GetValue([]string{"devices", category, name, "udn"})
	if err == nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	udn := "uuid:" + uuid.New().String()
	cfg.SetValue([]string{"devices", category, name, "udn"}, udn)
	return udn
}
