package config

import (
	"sync"
	"sync/atomic"

	"github.com/franz/media-organizer/internal/util"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Provider hands out the current configuration snapshot. Readers never
// see a half-applied reload: a new snapshot is validated in full and then
// swapped in atomically.
type Provider struct {
	v       *viper.Viper
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewProvider loads the initial snapshot from v.
func NewProvider(v *viper.Viper) (*Provider, error) {
	cfg, err := Load(v)
	if err != nil {
		return nil, err
	}
	p := &Provider{v: v}
	p.current.Store(cfg)
	return p, nil
}

// Static wraps a fixed configuration that never reloads.
func Static(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Current returns the active snapshot.
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// OnChange registers fn to run after every accepted reload.
func (p *Provider) OnChange(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Reload re-reads the config file and swaps the snapshot. An invalid file
// leaves the previous snapshot in place and returns the validation error.
func (p *Provider) Reload() error {
	if p.v == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.v.ConfigFileUsed() != "" {
		if err := p.v.ReadInConfig(); err != nil {
			return err
		}
	}
	cfg, err := Load(p.v)
	if err != nil {
		return err
	}
	p.current.Store(cfg)
	for _, fn := range p.listeners {
		fn(cfg)
	}
	return nil
}

// Watch reloads whenever the config file changes on disk.
func (p *Provider) Watch() {
	if p.v == nil || p.v.ConfigFileUsed() == "" {
		return
	}
	p.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := p.Reload(); err != nil {
			util.WarnLog("Config reload rejected, keeping previous settings: %v", err)
			return
		}
		cfg := p.Current()
		util.InfoLog("Config reloaded from %s (accept=%.2f reject=%.2f boost=%.2f)",
			e.Name, cfg.Router.AcceptThreshold, cfg.Router.RejectThreshold, cfg.Boost.Amount)
	})
	p.v.WatchConfig()
}
