package main

import (
	"lexitrend-go/cache"
)

// CacheStorage describes the durable store behind the insight cache
type CacheStorage struct {
	Backend      string  `json:"backend"`
	NumberOfKeys int     `json:"number_of_keys"`
	SizeInKB     int     `json:"size_kb,omitempty"`
	SizeInMB     float64 `json:"size_mb,omitempty"`
}

// CachePerformance contains cache hit/miss statistics
type CachePerformance struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Coalesced int64   `json:"coalesced"`
	HitRate   float64 `json:"hit_rate_percent"`
}

// CacheDumpResponse is the response format for /cache endpoint
type CacheDumpResponse struct {
	Storage     CacheStorage     `json:"storage"`
	Performance CachePerformance `json:"performance"`
	InFlight    int              `json:"in_flight"`
}

// BackupsResponse lists cache backups
type BackupsResponse struct {
	Backups []cache.BackupInfo `json:"backups"`
	Count   int                `json:"count"`
}

// SettingsView is the public form of the stored settings. Credentials are
// reported as present or absent, never echoed.
type SettingsView struct {
	Language           string `json:"language"`
	OnboardingComplete bool   `json:"onboardingComplete"`
	SearchEnabled      bool   `json:"searchEnabled"`
	HasAPIKey          bool   `json:"hasApiKey"`
	HasSearchAPIKey    bool   `json:"hasTavilyApiKey"`
	InMemory           bool   `json:"inMemory"`
}

// SettingsUpdate is the body of POST /settings. Nil fields are left alone.
type SettingsUpdate struct {
	Language           *string `json:"language,omitempty"`
	OnboardingComplete *bool   `json:"onboardingComplete,omitempty"`
	SearchEnabled      *bool   `json:"searchEnabled,omitempty"`
	APIKey             *string `json:"apiKey,omitempty"`
	SearchAPIKey       *string `json:"tavilyApiKey,omitempty"`
}
