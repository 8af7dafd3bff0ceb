// Package credentials resolves secrets (optimizer API keys, store paths and
// tokens) from an ordered list of named providers. The first provider that
// finds a non-empty value wins.
package credentials

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Lookup is the typed result of one provider lookup.
type Lookup struct {
	Value  string
	Source string
	Found  bool
}

// Found wraps a value found by source.
func Found(source, value string) Lookup { return Lookup{Value: value, Source: source, Found: true} }

// NotFound is the empty lookup.
func NotFound() Lookup { return Lookup{} }

// Provider looks up one key.
type Provider interface {
	Name() string
	Lookup(key string) (Lookup, error)
}

// Env reads process environment variables.
type Env struct{}

func (Env) Name() string { return "env" }

func (Env) Lookup(key string) (Lookup, error) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return Found("env", strings.TrimSpace(v)), nil
	}
	return NotFound(), nil
}

// DotenvFile reads a .env file once, on first lookup. A missing file finds nothing.
type DotenvFile struct {
	Path string

	once sync.Once
	vals map[string]string
	err  error
}

func (d *DotenvFile) Name() string { return "dotenv:" + d.Path }

func (d *DotenvFile) Lookup(key string) (Lookup, error) {
	d.once.Do(func() {
		if _, err := os.Stat(d.Path); err != nil {
			return
		}
		d.vals, d.err = godotenv.Read(d.Path)
	})
	if d.err != nil {
		return NotFound(), fmt.Errorf("read %s: %w", d.Path, d.err)
	}
	if v := strings.TrimSpace(d.vals[key]); v != "" {
		return Found(d.Name(), v), nil
	}
	return NotFound(), nil
}

// ConfigFile reads keys from a viper-readable file (yaml, toml, json). Keys are
// matched case-insensitively; "OPTIMIZER_API_KEY" also matches "optimizer.api_key".
type ConfigFile struct {
	Path string

	once sync.Once
	v    *viper.Viper
	err  error
}

func (c *ConfigFile) Name() string { return "config:" + c.Path }

func (c *ConfigFile) Lookup(key string) (Lookup, error) {
	c.once.Do(func() {
		if _, err := os.Stat(c.Path); err != nil {
			return
		}
		c.v = viper.New()
		c.v.SetConfigFile(c.Path)
		c.err = c.v.ReadInConfig()
	})
	if c.err != nil {
		return NotFound(), fmt.Errorf("read %s: %w", c.Path, c.err)
	}
	if c.v == nil {
		return NotFound(), nil
	}
	for _, k := range []string{key, strings.Replace(strings.ToLower(key), "_", ".", 1)} {
		if v := strings.TrimSpace(c.v.GetString(k)); v != "" {
			return Found(c.Name(), v), nil
		}
	}
	return NotFound(), nil
}

// Static serves fixed values, typically development defaults. It goes last.
type Static map[string]string

func (Static) Name() string { return "static" }

func (s Static) Lookup(key string) (Lookup, error) {
	if v := strings.TrimSpace(s[key]); v != "" {
		return Found("static", v), nil
	}
	return NotFound(), nil
}

// MissingError reports a key no provider could resolve.
type MissingError struct {
	Key   string
	Tried []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("credential %s not found (tried %s)", e.Key, strings.Join(e.Tried, ", "))
}

// Chain tries its providers in order.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Resolve returns the first value found. Provider errors stop the search.
func (c *Chain) Resolve(key string) (Lookup, error) {
	for _, p := range c.providers {
		l, err := p.Lookup(key)
		if err != nil {
			return NotFound(), fmt.Errorf("%s: %w", p.Name(), err)
		}
		if l.Found {
			return l, nil
		}
	}
	return NotFound(), nil
}

// Require is Resolve that fails with MissingError when nothing is found.
func (c *Chain) Require(key string) (string, error) {
	l, err := c.Resolve(key)
	if err != nil {
		return "", err
	}
	if !l.Found {
		tried := make([]string, 0, len(c.providers))
		for _, p := range c.providers {
			tried = append(tried, p.Name())
		}
		return "", &MissingError{Key: key, Tried: tried}
	}
	return l.Value, nil
}

// Get returns the value of key or fallback.
func (c *Chain) Get(key, fallback string) string {
	l, err := c.Resolve(key)
	if err != nil || !l.Found {
		return fallback
	}
	return l.Value
}

// Default is env, then ./.env, then configPath when set.
func Default(configPath string) *Chain {
	ps := []Provider{Env{}, &DotenvFile{Path: ".env"}}
	if configPath != "" {
		ps = append(ps, &ConfigFile{Path: configPath})
	}
	return NewChain(ps...)
}
