package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"missionctl/internal/config"
	"missionctl/internal/domain"
)

// Constructor creates a responder from a config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Responder

// Factory creates and caches responders from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Responder
	mu           sync.Mutex
}

// NewFactory creates a factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Responder),
	}
	f.constructors["gemini"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Responder {
		return NewGemini(GeminiConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Responder {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, Logger: logger})
	}
	return f
}

// Register adds (or replaces) a constructor by name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Get returns the responder with the given name, or the configured default
// when name is empty. Instances are cached.
func (f *Factory) Get(name string) (domain.Responder, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.cache[name]; ok {
		return r, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider disabled: %s", name)
	}

	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("no constructor for provider: %s", name)
	}

	r := ctor(pc, f.logger)
	f.cache[name] = r
	return r, nil
}

// Default returns the configured default responder.
func (f *Factory) Default() (domain.Responder, error) {
	return f.Get("")
}
