package main

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"lexitrend-go/apperr"
	"lexitrend-go/insight"
	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// authorized checks the admin token in the Authorization header. An unset
// token locks the admin endpoints.
func (a *app) authorized(r *http.Request) bool {
	token := a.conf.Configuration.CacheAccessToken
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(token)) == 1
}

func (a *app) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if a.authorized(r) {
		return true
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// termAndLanguage reads the analysis parameters. term, keyword and q are
// accepted for the term; lang and language for the language.
func termAndLanguage(r *http.Request) (string, string) {
	q := r.URL.Query()
	term := q.Get("term")
	if term == "" {
		term = q.Get("keyword")
	}
	if term == "" {
		term = q.Get("q")
	}
	lang := q.Get("lang")
	if lang == "" {
		lang = q.Get("language")
	}
	return term, lang
}

func (a *app) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	term, lang := termAndLanguage(r)
	model := a.models.Select(insight.NormalizeTerm(term))
	log.Debugf("%s Analyze %s (lang=%q, model=%s)", logcolors.LogHTTP, logcolors.Term(term), lang, model)

	res, err := a.coordinator.Analyze(r.Context(), term, lang)
	if err != nil {
		Respond(w, r).SetModel(model).Fail(err)
		return
	}
	Respond(w, r).SetModel(model).SetLanguage(res.Language).JSON(res)
}

func (a *app) analyzeEnhancedHandler(w http.ResponseWriter, r *http.Request) {
	term, lang := termAndLanguage(r)
	model := a.models.Select(insight.NormalizeTerm(term))
	log.Debugf("%s Enhanced analyze %s (lang=%q, model=%s)", logcolors.LogHTTP, logcolors.Term(term), lang, model)

	res, err := a.coordinator.AnalyzeEnhanced(r.Context(), term, lang)
	if err != nil {
		Respond(w, r).SetModel(model).Fail(err)
		return
	}
	w.Header().Set("X-Search-Performed", fmt.Sprintf("%t", res.SearchMetadata.SearchPerformed))
	Respond(w, r).SetModel(model).SetLanguage(res.Language).JSON(res)
}

func (a *app) settingsView(r *http.Request) (SettingsView, error) {
	ctx := r.Context()
	us, err := a.settings.Settings(ctx)
	if err != nil {
		return SettingsView{}, err
	}
	return SettingsView{
		Language:           us.Language,
		OnboardingComplete: us.OnboardingComplete,
		SearchEnabled:      us.SearchEnabled,
		HasAPIKey:          a.settings.HasAPIKey(ctx, ""),
		HasSearchAPIKey:    us.SearchAPIKey != "",
		InMemory:           a.settings.InMemory(),
	}, nil
}

// settingsHandler shows (GET), updates (POST) or resets (DELETE) settings.
// DELETE with ?all=true also removes the stored credential.
func (a *app) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost, http.MethodPut:
		var upd SettingsUpdate
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&upd); err != nil {
			Respond(w, r).Fail(apperr.Validation("malformed settings body", apperr.WithOperation("updateSettings")))
			return
		}
		if err := a.applySettings(r, upd); err != nil {
			Respond(w, r).Fail(err)
			return
		}
		log.Infof("%s Settings updated", logcolors.LogSettings)
	case http.MethodDelete:
		var err error
		if r.URL.Query().Get("all") == "true" {
			err = a.settings.ClearAll(ctx)
		} else {
			err = a.settings.Reset(ctx)
		}
		if err != nil {
			Respond(w, r).Fail(err)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	view, err := a.settingsView(r)
	if err != nil {
		Respond(w, r).Fail(err)
		return
	}
	Respond(w, r).JSON(view)
}

func (a *app) applySettings(r *http.Request, upd SettingsUpdate) error {
	ctx := r.Context()
	if upd.Language != nil {
		if err := a.settings.SetLanguage(ctx, *upd.Language); err != nil {
			return err
		}
	}
	if upd.SearchEnabled != nil {
		if err := a.settings.SetSearchEnabled(ctx, *upd.SearchEnabled); err != nil {
			return err
		}
	}
	if upd.OnboardingComplete != nil {
		if err := a.settings.SetOnboardingComplete(ctx, *upd.OnboardingComplete); err != nil {
			return err
		}
	}
	if upd.SearchAPIKey != nil {
		if err := a.settings.SetSearchAPIKey(ctx, *upd.SearchAPIKey); err != nil {
			return err
		}
	}
	if upd.APIKey != nil {
		if strings.TrimSpace(*upd.APIKey) == "" {
			return a.settings.ClearAPIKey(ctx)
		}
		return a.settings.SetAPIKey(ctx, *upd.APIKey)
	}
	return nil
}

func (a *app) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	health := map[string]interface{}{
		"status":          "ok",
		"circuit_breaker": a.breaker.State().String(),
		"provider":        a.conf.Configuration.GenerationProvider,
		"has_api_key":     a.settings.HasAPIKey(ctx, ""),
		"search_enabled":  a.settings.SearchEnabled(ctx),
	}

	if a.breaker.IsOpen() {
		health["status"] = "degraded"
		health["circuit_breaker_retry_in"] = a.breaker.TimeUntilRetry().String()
	}
	if a.settings.InMemory() {
		health["status"] = "degraded"
		health["settings_storage"] = "memory"
	}

	if a.authorized(r) {
		size, err := a.cache.Size(ctx)
		if err != nil {
			health["status"] = "unhealthy"
			health["error"] = err.Error()
		} else {
			health["cache_keys"] = size
		}
		health["in_flight"] = a.coordinator.Pending()
		health["circuit_breaker_failures"] = a.breaker.Failures()
	}

	json.NewEncoder(w).Encode(health)
}

func (a *app) getStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	snapshot := a.stats.Snapshot()
	snapshot["cache_storage"] = a.cacheStorage(r)

	cb := a.breaker.Snapshot()
	snapshot["circuit_breaker"] = map[string]interface{}{
		"state":            cb.State.String(),
		"failures":         cb.Failures,
		"time_until_retry": cb.RetryIn.String(),
	}
	snapshot["in_flight"] = a.coordinator.Pending()

	if r.URL.Query().Get("errors") == "recent" {
		snapshot["recent_errors"] = a.coordinator.Errors().Recent()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func (a *app) getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	cb := a.breaker.Snapshot()
	resp := map[string]interface{}{
		"name":             cb.Name,
		"state":            cb.State.String(),
		"failures":         cb.Failures,
		"time_until_retry": cb.RetryIn.String(),
		"config": map[string]interface{}{
			"threshold":    cb.Threshold,
			"cooldown_sec": a.conf.Configuration.CircuitBreakerCooldownSecs,
		},
	}
	if cb.LastFailure != nil {
		resp["last_failure"] = cb.LastFailure
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *app) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.breaker.Reset()
	log.Infof("%s Reset via API", logcolors.CircuitBreakerPrefix(a.breaker.Name()))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Circuit breaker reset",
		"state":   a.breaker.State().String(),
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"help": "Use /analyze?term=<term>&lang=<lang> for a basic analysis or /analyze/enhanced for one backed by web search.",
		"endpoints": map[string]string{
			"GET /analyze":                "basic analysis (term, lang)",
			"GET /analyze/enhanced":       "search-backed analysis (term, lang)",
			"POST /message":               "message boundary ({type, payload})",
			"GET|POST|DELETE /settings":   "settings (admin)",
			"GET /cache":                  "cache statistics (admin)",
			"POST /cache/backup":          "create a cache backup (admin)",
			"GET /cache/backups":          "list cache backups (admin)",
			"POST /cache/restore":         "restore ?backup=<file> (admin)",
			"POST /cache/clear":           "clear the cache (admin)",
			"POST /cache/remove":          "remove ?key=<key> (admin)",
			"GET /health":                 "health",
			"GET /stats":                  "server statistics (admin)",
			"GET /circuit-breaker":        "search circuit breaker (admin)",
			"POST /circuit-breaker/reset": "reset the search circuit breaker (admin)",
		},
	})
}
