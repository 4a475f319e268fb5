package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"lexitrend-go/cache"
	"lexitrend-go/circuitbreaker"
	"lexitrend-go/config"
	"lexitrend-go/coordinator"
	"lexitrend-go/insight"
	"lexitrend-go/logcolors"
	"lexitrend-go/messaging"
	"lexitrend-go/retry"
	"lexitrend-go/services/generation"
	"lexitrend-go/services/search"
	"lexitrend-go/settings"
	"lexitrend-go/stats"
	"lexitrend-go/workflow"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const settingsBucket = "lexitrend-settings"

// backend is a generator that can also check credentials
type backend interface {
	generation.Generator
	generation.KeyValidator
}

// app holds every wired component of one process
type app struct {
	conf        config.Config
	stats       *stats.Stats
	statsStore  *stats.Store
	store       cache.Store
	cache       *cache.Service
	settingsDB  cache.Store
	settings    *settings.Store
	breaker     *circuitbreaker.CircuitBreaker
	tavily      *search.Tavily
	generator   backend
	prompts     *insight.Prompts
	models      insight.Models
	bus         *messaging.Bus
	workflow    *workflow.Workflow
	coordinator *coordinator.Coordinator
}

type appOptions struct {
	// persistStats loads and periodically saves counters to the stats file
	persistStats bool
	// generator replaces the configured backend
	generator backend
	// httpClient is used for search and generation calls
	httpClient *http.Client
}

// setupLogging configures logrus. The server logs JSON, the CLI logs text to
// stderr. LOG_FILE adds a rotating file sink.
func setupLogging(c config.Config, server bool) io.Closer {
	var out io.Writer = os.Stderr
	if server {
		log.SetFormatter(&log.JSONFormatter{})
		out = os.Stdout
	} else {
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	}

	level, err := log.ParseLevel(c.Configuration.LogLevel)
	if err != nil {
		log.Warnf("%s Unknown LOG_LEVEL %q, using info", logcolors.LogConfig, c.Configuration.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.Configuration.LogFile == "" {
		log.SetOutput(out)
		return nil
	}
	rotator := &lumberjack.Logger{
		Filename:   c.Configuration.LogFile,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(out, rotator))
	return rotator
}

func newGenerator(c config.Config, client *http.Client) (backend, error) {
	switch strings.ToLower(c.Configuration.GenerationProvider) {
	case "", "gemini":
		return generation.NewGemini(c.Configuration.GeminiBaseURL, client), nil
	case "ollama":
		return generation.NewOllama(c.Configuration.OllamaHost, client)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", c.Configuration.GenerationProvider)
	}
}

// newApp opens the stores and wires the analysis pipeline.
func newApp(c config.Config, opts appOptions) (*app, error) {
	a := &app{conf: c, stats: stats.Get()}
	runner := retry.NewRunner()

	store, err := cache.Open(cache.OpenOptions{
		Backend:        c.Configuration.CacheBackend,
		Path:           c.Configuration.CachePath,
		BackupPath:     c.Configuration.CacheBackupPath,
		Compression:    c.FeatureFlags.CacheCompression,
		MemoryFallback: c.FeatureFlags.CacheMemoryFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.store = store
	a.cache = cache.NewService(store, runner)
	log.Infof("%s Cache backend: %s", logcolors.LogCacheInit, c.Configuration.CacheBackend)

	// A settings file that cannot be opened leaves the settings store in
	// memory mode rather than failing startup.
	settingsDB, err := cache.NewBoltStore(cache.BoltOptions{
		Path:   c.Configuration.SettingsPath,
		Bucket: settingsBucket,
	})
	if err != nil {
		log.Warnf("%s Settings file unavailable, keeping settings in memory: %v", logcolors.LogSettings, err)
		a.settings = settings.NewStore(nil, runner)
	} else {
		a.settingsDB = settingsDB
		a.settings = settings.NewStore(settingsDB, runner)
	}

	if opts.persistStats {
		st, err := stats.NewStore(c.Configuration.StatsPath, a.stats)
		if err != nil {
			log.Warnf("%s Stats persistence disabled: %v", logcolors.LogStats, err)
		} else {
			if err := st.Load(); err != nil {
				log.Warnf("%s Failed to load stats: %v", logcolors.LogStats, err)
			}
			a.statsStore = st
		}
	}

	client := opts.httpClient
	if client == nil {
		client = &http.Client{Timeout: c.SearchTimeout()}
	}

	a.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:      "Search",
		Threshold: c.Configuration.CircuitBreakerThreshold,
		Cooldown:  c.CircuitBreakerCooldown(),
		OnTrip: func(string, int) {
			a.stats.RecordCircuitTrip()
		},
	})
	a.tavily = search.NewTavily(c.Configuration.SearchURL, client, a.breaker)

	a.generator = opts.generator
	if a.generator == nil {
		genClient := opts.httpClient
		if genClient == nil {
			genClient = &http.Client{Timeout: c.GenerationTimeout()}
		}
		gen, err := newGenerator(c, genClient)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.generator = gen
	}

	a.prompts, err = insight.LoadPromptsFile(c.Configuration.PromptsFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.models = insight.Models{Fast: c.Configuration.FastModel, Capable: c.Configuration.CapableModel}
	a.bus = messaging.NewBus()

	a.workflow = workflow.New(a.generator, a.settings,
		workflow.WithSearcher(messaging.NewSearchClient(a.bus)),
		workflow.WithPrompts(a.prompts),
		workflow.WithStats(a.stats),
		workflow.WithConfig(workflow.Config{
			Models:               a.models,
			MaxSteps:             c.Configuration.MaxToolSteps,
			BasicTemperature:     c.Configuration.BasicTemperature,
			ToolTemperature:      c.Configuration.ToolTemperature,
			StructureTemperature: c.Configuration.StructureTemperature,
			SearchDepth:          c.Configuration.SearchDepth,
			SearchMaxResults:     c.Configuration.SearchMaxResults,
		}),
	)

	a.coordinator = coordinator.New(a.cache, a.workflow, a.settings,
		coordinator.WithModels(a.models),
		coordinator.WithStats(a.stats),
	)

	messaging.Register(a.bus, messaging.Services{
		Search:      a.tavily,
		Credentials: a.settings,
		Generation:  a.generator,
		Analyzer:    a.coordinator,
		Stats:       a.stats,
	})
	log.Debugf("%s Registered message types: %v", logcolors.LogMessaging, a.bus.Types())

	return a, nil
}

// backupper returns the cache store's backup capability, if it has one
func (a *app) backupper() (cache.Backupper, bool) {
	b, ok := a.store.(cache.Backupper)
	return b, ok
}

// Close saves stats and releases every store.
func (a *app) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.statsStore != nil {
		keep(a.statsStore.Close())
	}
	if a.settingsDB != nil {
		keep(a.settingsDB.Close())
	}
	if a.store != nil {
		keep(a.store.Close())
	}
	return firstErr
}
