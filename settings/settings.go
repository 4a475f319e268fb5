// Package settings persists user preferences and credentials.
package settings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"lexitrend-go/apperr"
	"lexitrend-go/cache"
	"lexitrend-go/insight"
	"lexitrend-go/logcolors"
	"lexitrend-go/retry"

	log "github.com/sirupsen/logrus"
)

// Storage keys
const (
	KeyAPIKey       = "lexitrend_api_key"
	KeyUserSettings = "userSettings"
)

// UserSettings are the persisted preferences. Fields missing from a stored
// document keep their default.
type UserSettings struct {
	Language           string `json:"language"`
	OnboardingComplete bool   `json:"onboardingComplete"`
	SearchEnabled      bool   `json:"searchEnabled"`
	SearchAPIKey       string `json:"tavilyApiKey,omitempty"`
}

// Defaults returns the settings of a fresh install.
func Defaults() UserSettings {
	return UserSettings{
		Language:      insight.DefaultLanguage,
		SearchEnabled: true,
	}
}

// Provider is the read side the analysis pipeline needs.
type Provider interface {
	APIKey(ctx context.Context) (string, error)
	Language(ctx context.Context) string
	SearchEnabled(ctx context.Context) bool
	SearchAPIKey(ctx context.Context) string
}

// Store keeps settings in a cache.Store. Every store call is retried under
// the storage policy; when the durable store keeps failing the Store
// switches to process memory for the rest of its life.
type Store struct {
	mu       sync.Mutex
	durable  cache.Store
	memory   *cache.MemoryStore
	fallback bool
	runner   *retry.Runner
}

// NewStore wraps backend. A nil backend starts in memory mode.
func NewStore(backend cache.Store, runner *retry.Runner) *Store {
	if runner == nil {
		runner = retry.NewRunner()
	}
	return &Store{
		durable:  backend,
		memory:   cache.NewMemoryStore(),
		fallback: backend == nil,
		runner:   runner,
	}
}

// InMemory reports whether the Store has fallen back to process memory.
func (s *Store) InMemory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

func (s *Store) backend() cache.Store {
	if s.fallback {
		return s.memory
	}
	return s.durable
}

// run executes op against the active backend; callers hold s.mu.
func (s *Store) run(ctx context.Context, name string, op func(ctx context.Context, b cache.Store) error) error {
	err := s.runner.Do(ctx, apperr.KindStorage, func(ctx context.Context) error {
		return op(ctx, s.backend())
	})
	if err == nil {
		return nil
	}
	if !s.fallback && s.runner.Policy(apperr.KindStorage).Fallback == "memory" {
		log.Warnf("%s Durable store failed during %s, switching to memory: %v", logcolors.LogSettings, name, err)
		s.fallback = true
		err = op(ctx, s.memory)
		if err == nil {
			return nil
		}
	}
	return apperr.Storage(fmt.Sprintf("settings %s failed: %v", name, err),
		apperr.WithOperation(name), apperr.WithCause(err))
}

func (s *Store) load(ctx context.Context) (UserSettings, error) {
	out := Defaults()
	err := s.run(ctx, "getSettings", func(ctx context.Context, b cache.Store) error {
		data, found, err := b.Get(ctx, KeyUserSettings)
		if err != nil || !found {
			return err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			log.Warnf("%s Stored settings unreadable, using defaults: %v", logcolors.LogSettings, err)
			out = Defaults()
		}
		return nil
	})
	return out, err
}

func (s *Store) save(ctx context.Context, name string, us UserSettings) error {
	data, err := json.Marshal(us)
	if err != nil {
		return apperr.Storage("failed to encode settings", apperr.WithOperation(name), apperr.WithCause(err))
	}
	return s.run(ctx, name, func(ctx context.Context, b cache.Store) error {
		return b.Set(ctx, KeyUserSettings, data)
	})
}

// Settings returns the stored settings merged over the defaults.
func (s *Store) Settings(ctx context.Context) (UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Update applies fn to the current settings and stores the result.
func (s *Store) Update(ctx context.Context, fn func(*UserSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, "updateSettings", fn)
}

func (s *Store) update(ctx context.Context, name string, fn func(*UserSettings)) error {
	us, err := s.load(ctx)
	if err != nil {
		return err
	}
	fn(&us)
	return s.save(ctx, name, us)
}

// Reset restores the defaults. The model credential is kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, "resetSettings", Defaults())
}

// ClearAll removes the credential and all settings.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.run(ctx, "clearAll", func(ctx context.Context, b cache.Store) error {
		if err := b.Remove(ctx, KeyAPIKey); err != nil {
			return err
		}
		return b.Remove(ctx, KeyUserSettings)
	})
	if err != nil {
		return err
	}
	s.memory.Clear(ctx)
	log.Infof("%s Cleared all settings", logcolors.LogSettings)
	return nil
}

// SetAPIKey stores the model credential, obfuscated.
func (s *Store) SetAPIKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return apperr.Validation("API key cannot be empty", apperr.WithOperation("setApiKey"))
	}
	encoded := obfuscate(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, "setApiKey", func(ctx context.Context, b cache.Store) error {
		return b.Set(ctx, KeyAPIKey, []byte(encoded))
	})
}

// APIKey returns the model credential, or "" when none is stored.
func (s *Store) APIKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw []byte
	err := s.run(ctx, "getApiKey", func(ctx context.Context, b cache.Store) error {
		data, _, err := b.Get(ctx, KeyAPIKey)
		raw = data
		return err
	})
	if err != nil || len(raw) == 0 {
		return "", err
	}
	key, err := deobfuscate(string(raw))
	if err != nil {
		return "", apperr.Storage("stored API key is unreadable", apperr.WithOperation("getApiKey"), apperr.WithCause(err))
	}
	return key, nil
}

// HasAPIKey reports whether a usable credential is stored, or whether key
// itself is usable when given.
func (s *Store) HasAPIKey(ctx context.Context, key string) bool {
	if key == "" {
		stored, err := s.APIKey(ctx)
		if err != nil {
			log.Warnf("%s API key check failed: %v", logcolors.LogSettings, err)
			return false
		}
		key = stored
	}
	return strings.TrimSpace(key) != ""
}

// ClearAPIKey removes the model credential.
func (s *Store) ClearAPIKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, "clearApiKey", func(ctx context.Context, b cache.Store) error {
		return b.Remove(ctx, KeyAPIKey)
	})
}

// SetLanguage accepts one of the core languages only.
func (s *Store) SetLanguage(ctx context.Context, lang string) error {
	if !insight.IsCoreLanguage(lang) {
		return apperr.Validation("unsupported language setting",
			apperr.WithOperation("setLanguage"), apperr.WithDetail("lang", lang))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, "setLanguage", func(us *UserSettings) { us.Language = lang })
}

// Language returns the configured language, or the default on failure.
func (s *Store) Language(ctx context.Context) string {
	us, err := s.Settings(ctx)
	if err != nil {
		log.Warnf("%s Language lookup failed, using default: %v", logcolors.LogSettings, err)
		return insight.DefaultLanguage
	}
	return us.Language
}

func (s *Store) SetOnboardingComplete(ctx context.Context, complete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, "setOnboardingComplete", func(us *UserSettings) { us.OnboardingComplete = complete })
}

func (s *Store) OnboardingComplete(ctx context.Context) bool {
	us, err := s.Settings(ctx)
	return err == nil && us.OnboardingComplete
}

func (s *Store) SetSearchAPIKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, "setTavilyApiKey", func(us *UserSettings) { us.SearchAPIKey = strings.TrimSpace(key) })
}

// SearchAPIKey returns the search credential, or "" when unset or unreadable.
func (s *Store) SearchAPIKey(ctx context.Context) string {
	us, err := s.Settings(ctx)
	if err != nil {
		log.Warnf("%s Search key lookup failed: %v", logcolors.LogSettings, err)
		return ""
	}
	return us.SearchAPIKey
}

func (s *Store) SetSearchEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, "setSearchEnabled", func(us *UserSettings) { us.SearchEnabled = enabled })
}

// SearchEnabled defaults to true when settings cannot be read.
func (s *Store) SearchEnabled(ctx context.Context) bool {
	us, err := s.Settings(ctx)
	if err != nil {
		return true
	}
	return us.SearchEnabled
}

func obfuscate(key string) string {
	return base64.StdEncoding.EncodeToString([]byte(url.PathEscape(key)))
}

func deobfuscate(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return url.PathUnescape(string(data))
}
