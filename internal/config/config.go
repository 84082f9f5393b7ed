// Package config loads the zone configuration file (spec.md §6's
// "Section:Key" surface) from TOML, matching the teacher-sibling
// idiom of reading config with github.com/BurntSushi/toml into a flat
// two-level map rather than a generated struct, so new sections never
// require a schema change.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is a parsed zone file: Section -> Key -> raw string value.
// Every accessor below applies spec.md §6's defaults when a key is
// absent.
type Config struct {
	path     string
	sections map[string]map[string]string
}

// rawDoc is what toml.Decode actually produces: arbitrary nesting of
// maps, since TOML types keys however the file author wrote them.
type rawDoc map[string]map[string]any

// Load reads and parses path.
func Load(path string) (*Config, error) {
	var doc rawDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	sections := make(map[string]map[string]string, len(doc))
	for section, kv := range doc {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			m[k] = fmt.Sprintf("%v", v)
		}
		sections[section] = m
	}
	return &Config{path: path, sections: sections}, nil
}

// Parse decodes TOML text directly, bypassing the filesystem — used
// by tests and by any caller that already has the config body in
// memory.
func Parse(text string) (*Config, error) {
	var doc rawDoc
	if _, err := toml.Decode(text, &doc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	sections := make(map[string]map[string]string, len(doc))
	for section, kv := range doc {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			m[k] = fmt.Sprintf("%v", v)
		}
		sections[section] = m
	}
	return &Config{sections: sections}, nil
}

// Reload re-reads the same file path, returning a fresh Config. The
// caller (cmd/zoneserver's SIGHUP handler) is responsible for comparing
// old and new and firing ConfChanged on any arena whose config handle
// references this file (spec.md §4.8.2).
func (c *Config) Reload() (*Config, error) {
	return Load(c.path)
}

func (c *Config) lookup(section, key string) (string, bool) {
	kv, ok := c.sections[section]
	if !ok {
		return "", false
	}
	v, ok := kv[key]
	return v, ok
}

// GetString returns Section:Key, or def if absent.
func (c *Config) GetString(section, key, def string) string {
	if v, ok := c.lookup(section, key); ok {
		return v
	}
	return def
}

// GetInt returns Section:Key parsed as an integer, or def if absent or
// unparseable.
func (c *Config) GetInt(section, key string, def int) int {
	v, ok := c.lookup(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetBool returns Section:Key parsed as a bool, or def if absent or
// unparseable.
func (c *Config) GetBool(section, key string, def bool) bool {
	v, ok := c.lookup(section, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetDuration returns Section:Key, stored as plain milliseconds in the
// file (matching spec.md §6's "(ms, default ...)" keys), as a
// time.Duration. def is itself a time.Duration so call sites spell the
// spec's defaults naturally (e.g. 3*time.Second).
func (c *Config) GetDuration(section, key string, def time.Duration) time.Duration {
	ms, ok := c.lookup(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(ms))
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

var listenSectionRE = regexp.MustCompile(`^Listen\d*$`)

// ListenerSpec is one parsed `[ListenN]` block (spec.md §6).
type ListenerSpec struct {
	Section     string
	Port        int
	BindAddress string
	AllowVIE    bool
	AllowCont   bool
	ConnectAs   string
}

// Listeners returns every `Listen`/`Listen1`/... block with a valid
// Port. A listener block missing Port is a configuration error (spec
// §7: "missing listener port → log and skip that listener"); callers
// should log and skip it rather than fail outright, which this
// function supports by simply omitting it from the result.
func (c *Config) Listeners() []ListenerSpec {
	var out []ListenerSpec
	for section := range c.sections {
		if !listenSectionRE.MatchString(section) {
			continue
		}
		port := c.GetInt(section, "Port", 0)
		if port == 0 {
			continue
		}
		out = append(out, ListenerSpec{
			Section:     section,
			Port:        port,
			BindAddress: c.GetString(section, "BindAddress", "0.0.0.0"),
			AllowVIE:    c.GetBool(section, "AllowVIE", true),
			AllowCont:   c.GetBool(section, "AllowCont", true),
			ConnectAs:   c.GetString(section, "ConnectAs", ""),
		})
	}
	return out
}

// Section returns a read-only snapshot of one section, for components
// (like auth's TableAuthenticator) that want to iterate every key
// themselves rather than look up individual ones.
func (c *Config) Section(name string) map[string]string {
	out := make(map[string]string, len(c.sections[name]))
	for k, v := range c.sections[name] {
		out[k] = v
	}
	return out
}
