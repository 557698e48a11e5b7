package dynconfig

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Provider exposes settings that may change while the process is running.
// Consumers either read a key on every use or Subscribe to react to changes.
type Provider interface {
	GetInt(key string, defaultValue int) int
	GetDuration(key string, defaultValue time.Duration) time.Duration
	// GetDurationForHost resolves key, preferring a per-host override under
	// "<key>.overrides.<host>" with dots in the host replaced by underscores.
	GetDurationForHost(key, host string, defaultValue time.Duration) time.Duration
	// Subscribe registers a callback invoked after the settings change. The
	// callback runs on the watcher goroutine and must not block.
	Subscribe(key string, fn func())
}

// FileProvider watches a settings file and notifies subscribers on change.
type FileProvider struct {
	v      *viper.Viper
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]func()
}

// NewFileProvider loads the settings file at path and starts watching it.
func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read dynamic settings: %w", err)
	}

	p := &FileProvider{
		v:           v,
		logger:      logger,
		subscribers: make(map[string][]func()),
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("dynamic settings changed", zap.String("file", e.Name))
		p.notifyAll()
	})
	v.WatchConfig()

	return p, nil
}

func (p *FileProvider) GetInt(key string, defaultValue int) int {
	if !p.v.IsSet(key) {
		return defaultValue
	}
	return p.v.GetInt(key)
}

func (p *FileProvider) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if !p.v.IsSet(key) {
		return defaultValue
	}
	return p.v.GetDuration(key)
}

func (p *FileProvider) GetDurationForHost(key, host string, defaultValue time.Duration) time.Duration {
	override := hostKey(key, host)
	if p.v.IsSet(override) {
		return p.v.GetDuration(override)
	}
	return p.GetDuration(key, defaultValue)
}

func (p *FileProvider) Subscribe(key string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[key] = append(p.subscribers[key], fn)
}

func (p *FileProvider) notifyAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, fns := range p.subscribers {
		for _, fn := range fns {
			fn()
		}
	}
}

func hostKey(key, host string) string {
	return key + ".overrides." + strings.ReplaceAll(host, ".", "_")
}

// Static is a fixed-value Provider used when no settings file is configured,
// and in tests.
type Static struct {
	mu     sync.RWMutex
	values map[string]interface{}
	subs   map[string][]func()
}

// NewStatic builds a Static provider from the given values. A nil map is fine.
func NewStatic(values map[string]interface{}) *Static {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Static{values: values, subs: make(map[string][]func())}
}

// Set replaces a value and notifies that key's subscribers.
func (s *Static) Set(key string, value interface{}) {
	s.mu.Lock()
	s.values[key] = value
	fns := append([]func(){}, s.subs[key]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Static) GetInt(key string, defaultValue int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(int); ok {
		return v
	}
	return defaultValue
}

func (s *Static) GetDuration(key string, defaultValue time.Duration) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(time.Duration); ok {
		return v
	}
	return defaultValue
}

func (s *Static) GetDurationForHost(key, host string, defaultValue time.Duration) time.Duration {
	s.mu.RLock()
	v, ok := s.values[hostKey(key, host)].(time.Duration)
	s.mu.RUnlock()
	if ok {
		return v
	}
	return s.GetDuration(key, defaultValue)
}

func (s *Static) Subscribe(key string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[key] = append(s.subs[key], fn)
}
