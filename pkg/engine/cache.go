package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache hands out shared engines, constructing each one at most once
// per model id. Concurrent requests for the same id share a single
// construction; failures are returned to every waiter and not cached,
// so the next request retries.
//
// A Cache is safe for concurrent use and never evicts: engines are
// large and expected to live for the process lifetime.
type Cache struct {
	factory Factory
	logger  *slog.Logger

	group singleflight.Group

	mu          sync.RWMutex
	recognizers map[string]Recognizer
	synths      map[string]Synthesizer
	encoders    map[string]SpeakerEncoder
}

// NewCache creates a cache backed by the given factory.
func NewCache(factory Factory, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		factory:     factory,
		logger:      logger,
		recognizers: make(map[string]Recognizer),
		synths:      make(map[string]Synthesizer),
		encoders:    make(map[string]SpeakerEncoder),
	}
}

// Recognizer returns the shared recognizer for cfg.ID, constructing it
// on first use.
func (c *Cache) Recognizer(cfg ModelConfig) (Recognizer, error) {
	return cached(c, "asr", cfg, c.recognizers, c.factory.NewRecognizer)
}

// Synthesizer returns the shared synthesizer for cfg.ID, constructing
// it on first use.
func (c *Cache) Synthesizer(cfg ModelConfig) (Synthesizer, error) {
	return cached(c, "tts", cfg, c.synths, c.factory.NewSynthesizer)
}

// SpeakerEncoder returns the shared speaker encoder for cfg.ID,
// constructing it on first use.
func (c *Cache) SpeakerEncoder(cfg ModelConfig) (SpeakerEncoder, error) {
	return cached(c, "spk", cfg, c.encoders, c.factory.NewSpeakerEncoder)
}

func cached[E any](c *Cache, kind string, cfg ModelConfig, store map[string]E, construct func(ModelConfig) (E, error)) (E, error) {
	c.mu.RLock()
	e, ok := store[cfg.ID]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := c.group.Do(kind+":"+cfg.ID, func() (any, error) {
		// Re-check under the flight: a previous winner may have
		// populated the map between our miss and this call.
		c.mu.RLock()
		e, ok := store[cfg.ID]
		c.mu.RUnlock()
		if ok {
			return e, nil
		}

		start := time.Now()
		e, err := construct(cfg)
		if err != nil {
			c.logger.Error("engine construction failed",
				"kind", kind, "model", cfg.ID, "error", err)
			return nil, fmt.Errorf("%w: %s %q: %v", ErrModelUnavailable, kind, cfg.ID, err)
		}
		c.logger.Info("engine ready",
			"kind", kind, "model", cfg.ID, "elapsed", time.Since(start))

		c.mu.Lock()
		store[cfg.ID] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		var zero E
		return zero, err
	}
	return v.(E), nil
}
