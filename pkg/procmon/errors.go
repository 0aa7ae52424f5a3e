package procmon

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-procmon/internal/monitor"
	"github.com/opd-ai/go-procmon/internal/platform"
)

// ErrorCategory classifies tracked errors for alerting.
type ErrorCategory int

const (
	// ErrorCategoryUnknown is the default category for uncategorized errors.
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryConfig covers configuration loading and reloads.
	ErrorCategoryConfig
	// ErrorCategorySource covers failed application-metric fetches and
	// abandoned ticks.
	ErrorCategorySource
	// ErrorCategoryEnrichment covers degraded ticks without the system
	// process table.
	ErrorCategoryEnrichment
	// ErrorCategorySink covers snapshot delivery failures.
	ErrorCategorySink
	// ErrorCategoryControl covers diagnostics requests that failed to open.
	ErrorCategoryControl
	// ErrorCategoryRemote covers SSH connection failures.
	ErrorCategoryRemote

	numCategories
)

// String returns a human-readable name for the error category.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryConfig:
		return "config"
	case ErrorCategorySource:
		return "source"
	case ErrorCategoryEnrichment:
		return "enrichment"
	case ErrorCategorySink:
		return "sink"
	case ErrorCategoryControl:
		return "control"
	case ErrorCategoryRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ErrorSeverity indicates the severity level of an error.
type ErrorSeverity int

const (
	// SeverityInfo is for informational messages that don't require action.
	SeverityInfo ErrorSeverity = iota
	// SeverityWarning is for non-critical issues that should be investigated.
	SeverityWarning
	// SeverityError is for errors that affect functionality but allow continued operation.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns a human-readable name for the severity level.
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with tracking metadata.
type CategorizedError struct {
	Err       error
	Category  ErrorCategory
	Severity  ErrorSeverity
	Timestamp time.Time
	// Context holds extra key-value metadata such as the tick id.
	Context map[string]string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s/%s] (no error)", e.Severity, e.Category)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Severity, e.Category, e.Err.Error())
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorizedError creates a new CategorizedError with the given parameters.
func NewCategorizedError(err error, category ErrorCategory, severity ErrorSeverity) *CategorizedError {
	return &CategorizedError{
		Err:       err,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context and returns the error.
func (e *CategorizedError) WithContext(key, value string) *CategorizedError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Categorize maps an engine error to a tracking category and severity.
func Categorize(err error) (ErrorCategory, ErrorSeverity) {
	switch {
	case err == nil:
		return ErrorCategoryUnknown, SeverityInfo
	case errors.Is(err, platform.ErrNotConnected):
		return ErrorCategoryRemote, SeverityError
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryEnrichment, SeverityWarning
	case errors.Is(err, monitor.ErrEnrichmentUnavailable):
		return ErrorCategoryEnrichment, SeverityWarning
	case errors.Is(err, monitor.ErrTickTimeout):
		return ErrorCategorySource, SeverityWarning
	case monitor.IsComponentError(err, monitor.SourceAppMetrics):
		return ErrorCategorySource, SeverityError
	case errors.Is(err, monitor.ErrSinkClosed):
		return ErrorCategorySink, SeverityInfo
	case monitor.IsComponentError(err, monitor.SourceSink):
		return ErrorCategorySink, SeverityError
	case errors.Is(err, monitor.ErrUnknownTarget):
		return ErrorCategoryControl, SeverityInfo
	case monitor.IsComponentError(err, monitor.SourceControl):
		return ErrorCategoryControl, SeverityWarning
	default:
		return ErrorCategoryUnknown, SeverityError
	}
}

// AlertCondition defines when an alert should be triggered.
type AlertCondition struct {
	// Category filters alerts to a specific error category.
	// ErrorCategoryUnknown matches all categories.
	Category ErrorCategory
	// MinSeverity is the minimum severity level to trigger the alert.
	MinSeverity ErrorSeverity
	// Threshold is the number of errors within the window to trigger.
	Threshold int
	// Window is the time window for counting errors.
	Window time.Duration
}

// AlertHandler is called when an alert condition is met. It runs on its
// own goroutine.
type AlertHandler func(condition AlertCondition, errorCount int, recentErrors []CategorizedError)

// ErrorTracker keeps a bounded window of recent errors and raises alerts
// when a condition's threshold is reached.
// Thread-safe for concurrent use.
type ErrorTracker struct {
	mu            sync.RWMutex
	errors        []CategorizedError
	maxErrors     int
	retentionTime time.Duration
	conditions    []AlertCondition
	handlers      []AlertHandler
	// lastAlert is indexed by condition.
	lastAlert     map[int]time.Time
	alertCooldown time.Duration

	// lifetime totals
	categoryCounters [numCategories]atomic.Int64
}

// ErrorTrackerConfig configures an ErrorTracker.
type ErrorTrackerConfig struct {
	// MaxErrors is the maximum number of errors to retain (default: 1000).
	MaxErrors int
	// RetentionTime is how long to retain errors (default: 1 hour).
	RetentionTime time.Duration
	// AlertCooldown is the minimum time between repeated alerts (default: 5 minutes).
	AlertCooldown time.Duration
}

// DefaultErrorTrackerConfig returns a configuration with sensible defaults.
func DefaultErrorTrackerConfig() ErrorTrackerConfig {
	return ErrorTrackerConfig{
		MaxErrors:     1000,
		RetentionTime: time.Hour,
		AlertCooldown: 5 * time.Minute,
	}
}

// NewErrorTracker creates a new ErrorTracker with the given configuration.
func NewErrorTracker(cfg ErrorTrackerConfig) *ErrorTracker {
	def := DefaultErrorTrackerConfig()
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.RetentionTime <= 0 {
		cfg.RetentionTime = def.RetentionTime
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = def.AlertCooldown
	}
	return &ErrorTracker{
		errors:        make([]CategorizedError, 0, cfg.MaxErrors),
		maxErrors:     cfg.MaxErrors,
		retentionTime: cfg.RetentionTime,
		lastAlert:     make(map[int]time.Time),
		alertCooldown: cfg.AlertCooldown,
	}
}

// AddCondition registers an alert condition to monitor.
func (t *ErrorTracker) AddCondition(cond AlertCondition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conditions = append(t.conditions, cond)
}

// SetAlertHandler registers a handler for all alert conditions.
// Multiple handlers can be registered by calling this method multiple times.
func (t *ErrorTracker) SetAlertHandler(handler AlertHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// RecordError categorizes err with Categorize and records it.
func (t *ErrorTracker) RecordError(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var ce *CategorizedError
	if !errors.As(err, &ce) {
		category, severity := Categorize(err)
		ce = NewCategorizedError(err, category, severity)
	}
	t.Record(ce)
	return ce
}

// Record adds an error to the tracker and checks alert conditions.
func (t *ErrorTracker) Record(err *CategorizedError) {
	if err == nil {
		return
	}
	if err.Category >= 0 && err.Category < numCategories {
		t.categoryCounters[err.Category].Add(1)
	}

	t.mu.Lock()
	t.errors = append(t.errors, *err)
	if len(t.errors) > t.maxErrors {
		t.errors = t.errors[len(t.errors)-t.maxErrors:]
	}
	t.pruneExpired(time.Now())

	conditions := append([]AlertCondition(nil), t.conditions...)
	handlers := append([]AlertHandler(nil), t.handlers...)
	t.mu.Unlock()

	for i, cond := range conditions {
		t.checkCondition(i, cond, handlers)
	}
}

// pruneExpired drops errors older than the retention time. The caller
// holds mu.
func (t *ErrorTracker) pruneExpired(now time.Time) {
	cutoff := now.Add(-t.retentionTime)
	start := 0
	for start < len(t.errors) && !t.errors[start].Timestamp.After(cutoff) {
		start++
	}
	if start > 0 {
		t.errors = t.errors[start:]
	}
}

func (t *ErrorTracker) checkCondition(index int, cond AlertCondition, handlers []AlertHandler) {
	now := time.Now()

	t.mu.Lock()
	if last, ok := t.lastAlert[index]; ok && now.Sub(last) < t.alertCooldown {
		t.mu.Unlock()
		return
	}

	cutoff := now.Add(-cond.Window)
	var count int
	var matching []CategorizedError
	for _, err := range t.errors {
		if err.Timestamp.Before(cutoff) {
			continue
		}
		if cond.Category != ErrorCategoryUnknown && err.Category != cond.Category {
			continue
		}
		if err.Severity < cond.MinSeverity {
			continue
		}
		count++
		if len(matching) < 10 {
			matching = append(matching, err)
		}
	}
	if count < cond.Threshold {
		t.mu.Unlock()
		return
	}
	t.lastAlert[index] = now
	t.mu.Unlock()

	for _, h := range handlers {
		go func(h AlertHandler) {
			defer func() { _ = recover() }()
			h(cond, count, matching)
		}(h)
	}
}

// ErrorRate returns errors per second within the window.
func (t *ErrorTracker) ErrorRate(window time.Duration) float64 {
	return t.rate(window, func(CategorizedError) bool { return true })
}

// ErrorRateByCategory returns errors per second of one category within the window.
func (t *ErrorTracker) ErrorRateByCategory(category ErrorCategory, window time.Duration) float64 {
	return t.rate(window, func(e CategorizedError) bool { return e.Category == category })
}

func (t *ErrorTracker) rate(window time.Duration, match func(CategorizedError) bool) float64 {
	if window <= 0 {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, err := range t.errors {
		if err.Timestamp.After(cutoff) && match(err) {
			count++
		}
	}
	return float64(count) / window.Seconds()
}

// ErrorStats provides a summary of error statistics.
type ErrorStats struct {
	// TotalErrors is the number of errors currently retained.
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	ErrorsBySeverity map[ErrorSeverity]int
	// TotalByCategory holds lifetime totals, including pruned errors.
	TotalByCategory []CategoryCount
}

// CategoryCount pairs a category with its count.
type CategoryCount struct {
	Category ErrorCategory
	Count    int64
}

// Stats returns a snapshot of error statistics.
func (t *ErrorTracker) Stats() ErrorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := ErrorStats{
		TotalErrors:      len(t.errors),
		ErrorsByCategory: make(map[ErrorCategory]int),
		ErrorsBySeverity: make(map[ErrorSeverity]int),
	}
	for _, err := range t.errors {
		stats.ErrorsByCategory[err.Category]++
		stats.ErrorsBySeverity[err.Severity]++
	}
	for i := range t.categoryCounters {
		stats.TotalByCategory = append(stats.TotalByCategory, CategoryCount{
			Category: ErrorCategory(i),
			Count:    t.categoryCounters[i].Load(),
		})
	}
	return stats
}

// RecentErrors returns the most recent errors, oldest first, up to limit.
func (t *ErrorTracker) RecentErrors(limit int) []CategorizedError {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || len(t.errors) == 0 {
		return nil
	}
	start := max(0, len(t.errors)-limit)
	return append([]CategorizedError(nil), t.errors[start:]...)
}

// Clear removes all tracked errors.
func (t *ErrorTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = t.errors[:0]
	t.lastAlert = make(map[int]time.Time)
}

var (
	defaultErrorTracker     *ErrorTracker
	defaultErrorTrackerOnce sync.Once
)

// DefaultErrorTracker returns the global default ErrorTracker instance.
func DefaultErrorTracker() *ErrorTracker {
	defaultErrorTrackerOnce.Do(func() {
		defaultErrorTracker = NewErrorTracker(DefaultErrorTrackerConfig())
	})
	return defaultErrorTracker
}
