package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"
	Yellow = "\033[33m"

	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
)

// Cache-related log prefixes
const (
	LogCacheInit    = Blue + "[Cache:Init]" + Reset
	LogCache        = Blue + "[Cache]" + Reset
	LogCacheBackup  = Blue + "[Cache:Backup]" + Reset
	LogCacheClear   = Blue + "[Cache:Clear]" + Reset
	LogCacheBackups = Blue + "[Cache:Backups]" + Reset
	LogCacheRestore = Blue + "[Cache:Restore]" + Reset
	LogCacheSQLite  = BrightBlue + "[Cache:SQLite]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// termColors rotate per term so repeated lookups of one term are easy to follow
var termColors = []string{
	Green, Blue, Purple, Cyan,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan,
}

// Term returns a colored term for log messages.
// Same term always gets the same color.
func Term(term string) string {
	hash := 0
	for _, c := range term {
		hash += int(c)
	}
	return termColors[hash%len(termColors)] + term + Reset
}

// Server/Init log prefixes
const (
	LogServer = Green + "[Server]" + Reset
	LogConfig = Cyan + "[Config]" + Reset
	LogStats  = Blue + "[Stats]" + Reset
	LogHTTP   = Cyan + "[HTTP]" + Reset
)

// Engine log prefixes
const (
	LogCoordinator = Green + "[Coordinator]" + Reset
	LogCoalesce    = BrightGreen + "[Coalesce]" + Reset
	LogWorkflow    = Cyan + "[Workflow]" + Reset
	LogFallback    = Cyan + "[Fallback]" + Reset
	LogGeneration  = BrightMagenta + "[Generation]" + Reset
	LogSearch      = Blue + "[Search]" + Reset
	LogRetry       = Purple + "[Retry]" + Reset
	LogMessaging   = BrightCyan + "[Messaging]" + Reset
	LogSettings    = Cyan + "[Settings]" + Reset
	LogWarning     = Red + "[Warning]" + Reset
)
