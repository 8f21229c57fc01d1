package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"crm-sync-platform/internal/logger"
)

// ErrNotFound is returned by clients when the requested object does not exist
var ErrNotFound = errors.New("not found")

// ErrorType represents different types of errors
type ErrorType string

const (
	ErrorTypeTransient  ErrorType = "transient"
	ErrorTypePermanent  ErrorType = "permanent"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeCircuit    ErrorType = "circuit_breaker"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// ErrorSeverity represents error severity levels
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// HTTPStatusError carries a non-2xx response from the CRM or the source system
type HTTPStatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s returned HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) hold for 404 responses
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ClassifiedError represents an error with classification information
type ClassifiedError struct {
	OriginalError error
	Type          ErrorType
	Severity      ErrorSeverity
	StatusCode    int
	Message       string
	Retryable     bool
	Context       map[string]interface{}
	Timestamp     time.Time
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Severity, e.Message, e.OriginalError)
}

// Unwrap exposes the original error to errors.Is and errors.As
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalError
}

// ErrorCircuitBreakerState represents the state of a circuit breaker
type ErrorCircuitBreakerState string

const (
	ErrorCircuitBreakerClosed   ErrorCircuitBreakerState = "closed"
	ErrorCircuitBreakerOpen     ErrorCircuitBreakerState = "open"
	ErrorCircuitBreakerHalfOpen ErrorCircuitBreakerState = "half_open"
)

// ErrorCircuitBreaker stops calling an endpoint after repeated failures
type ErrorCircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	state         ErrorCircuitBreakerState
	failures      int
	nextAttempt   time.Time
	mutex         sync.RWMutex
	onStateChange func(name string, from, to ErrorCircuitBreakerState)
}

// NewErrorCircuitBreaker creates a new circuit breaker
func NewErrorCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *ErrorCircuitBreaker {
	return &ErrorCircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        ErrorCircuitBreakerClosed,
	}
}

// Execute executes a function with circuit breaker protection
func (cb *ErrorCircuitBreaker) Execute(fn func() error) error {
	if !cb.canExecute() {
		return &ClassifiedError{
			OriginalError: errors.New("circuit breaker is open"),
			Type:          ErrorTypeCircuit,
			Severity:      SeverityHigh,
			StatusCode:    http.StatusServiceUnavailable,
			Message:       fmt.Sprintf("circuit breaker '%s' is open", cb.name),
			Timestamp:     time.Now(),
		}
	}

	err := fn()
	if err != nil && tripsBreaker(err) {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return err
}

// tripsBreaker reports whether err counts against the endpoint. A rejection of
// one request (404, or any 4xx other than 408 and 429) answers for that
// payload only and leaves the breaker alone, as does cancellation.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Type {
		case ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeConnection, ErrorTypeUnknown:
			return true
		default:
			return false
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	return true
}

func (cb *ErrorCircuitBreaker) canExecute() bool {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	switch cb.state {
	case ErrorCircuitBreakerClosed, ErrorCircuitBreakerHalfOpen:
		return true
	case ErrorCircuitBreakerOpen:
		return time.Now().After(cb.nextAttempt)
	default:
		return false
	}
}

func (cb *ErrorCircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++

	switch cb.state {
	case ErrorCircuitBreakerClosed:
		if cb.failures >= cb.maxFailures {
			cb.setState(ErrorCircuitBreakerOpen)
			cb.nextAttempt = time.Now().Add(cb.resetTimeout)
		}
	case ErrorCircuitBreakerHalfOpen, ErrorCircuitBreakerOpen:
		cb.setState(ErrorCircuitBreakerOpen)
		cb.nextAttempt = time.Now().Add(cb.resetTimeout)
	}
}

func (cb *ErrorCircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0

	switch cb.state {
	case ErrorCircuitBreakerHalfOpen:
		cb.setState(ErrorCircuitBreakerClosed)
	case ErrorCircuitBreakerOpen:
		cb.setState(ErrorCircuitBreakerHalfOpen)
	}
}

func (cb *ErrorCircuitBreaker) setState(newState ErrorCircuitBreakerState) {
	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil && oldState != newState {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *ErrorCircuitBreaker) GetState() ErrorCircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetFailures returns the current failure count
func (cb *ErrorCircuitBreaker) GetFailures() int {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.failures
}

// RetryPolicy defines retry behavior for outbound calls
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []ErrorType
	Jitter          bool
}

// DefaultRetryPolicy returns a default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []ErrorType{
			ErrorTypeTransient,
			ErrorTypeTimeout,
			ErrorTypeRateLimit,
			ErrorTypeConnection,
		},
		Jitter: true,
	}
}

// ErrorHandler classifies outbound call errors and applies retries and circuit breakers
type ErrorHandler struct {
	logger          *logger.Logger
	circuitBreakers map[string]*ErrorCircuitBreaker
	retryPolicy     *RetryPolicy
	mutex           sync.RWMutex
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *logger.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:          logger,
		circuitBreakers: make(map[string]*ErrorCircuitBreaker),
		retryPolicy:     DefaultRetryPolicy(),
	}
}

// ClassifyError classifies an error based on its type and context
func (eh *ErrorHandler) ClassifyError(err error, context map[string]interface{}) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classifiedErr *ClassifiedError
	if errors.As(err, &classifiedErr) {
		return classifiedErr
	}

	classified := &ClassifiedError{
		OriginalError: err,
		Context:       context,
		Timestamp:     time.Now(),
	}

	eh.classifyByContent(classified)
	eh.classifyByHTTPStatus(classified)
	eh.classifyBySeverity(classified)

	return classified
}

// classifyByContent classifies error based on error message content
func (eh *ErrorHandler) classifyByContent(err *ClassifiedError) {
	errMsg := strings.ToLower(err.OriginalError.Error())

	switch {
	case containsAny(errMsg, "timeout", "deadline exceeded"):
		err.Type = ErrorTypeTimeout
		err.StatusCode = http.StatusGatewayTimeout
		err.Retryable = true
		err.Message = "request timeout"

	case containsAny(errMsg, "connection refused", "connection reset", "no such host", "network unreachable"):
		err.Type = ErrorTypeConnection
		err.StatusCode = http.StatusBadGateway
		err.Retryable = true
		err.Message = "connection error"

	case containsAny(errMsg, "unauthorized", "authentication", "invalid credentials"):
		err.Type = ErrorTypeAuth
		err.StatusCode = http.StatusUnauthorized
		err.Message = "authentication failed"

	case containsAny(errMsg, "rate limit", "too many requests"):
		err.Type = ErrorTypeRateLimit
		err.StatusCode = http.StatusTooManyRequests
		err.Retryable = true
		err.Message = "rate limit exceeded"

	case containsAny(errMsg, "validation", "invalid input", "bad request"):
		err.Type = ErrorTypeValidation
		err.StatusCode = http.StatusBadRequest
		err.Message = "validation error"

	case containsAny(errMsg, "circuit breaker"):
		err.Type = ErrorTypeCircuit
		err.StatusCode = http.StatusServiceUnavailable
		err.Message = "circuit breaker open"

	default:
		err.Type = ErrorTypeUnknown
		err.StatusCode = http.StatusInternalServerError
		err.Message = "unknown error"
	}
}

// classifyByHTTPStatus refines the classification from an HTTPStatusError or a status_code context entry
func (eh *ErrorHandler) classifyByHTTPStatus(err *ClassifiedError) {
	statusCode, ok := err.Context["status_code"].(int)

	var statusErr *HTTPStatusError
	if errors.As(err.OriginalError, &statusErr) {
		statusCode, ok = statusErr.StatusCode, true
		if statusErr.RetryAfter > 0 {
			if err.Context == nil {
				err.Context = make(map[string]interface{})
			}
			err.Context["retry_after"] = statusErr.RetryAfter
		}
	}
	if !ok {
		return
	}

	err.StatusCode = statusCode

	switch {
	case statusCode >= 500 && statusCode < 600:
		err.Type = ErrorTypeTransient
		err.Retryable = true
		err.Message = fmt.Sprintf("server error (HTTP %d)", statusCode)

	case statusCode == http.StatusTooManyRequests:
		err.Type = ErrorTypeRateLimit
		err.Retryable = true
		err.Message = "rate limit exceeded"

	case statusCode == http.StatusRequestTimeout:
		err.Type = ErrorTypeTimeout
		err.Retryable = true
		err.Message = "request timeout"

	case statusCode == http.StatusNotFound:
		err.Type = ErrorTypeNotFound
		err.Retryable = false
		err.Message = "object not found"

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err.Type = ErrorTypeAuth
		err.Retryable = false
		err.Message = fmt.Sprintf("authentication failed (HTTP %d)", statusCode)

	case statusCode >= 400 && statusCode < 500:
		err.Type = ErrorTypeValidation
		err.Retryable = false
		err.Message = fmt.Sprintf("client error (HTTP %d)", statusCode)
	}
}

// classifyBySeverity determines error severity
func (eh *ErrorHandler) classifyBySeverity(err *ClassifiedError) {
	switch err.Type {
	case ErrorTypeNotFound:
		err.Severity = SeverityLow
	case ErrorTypeAuth, ErrorTypeValidation:
		err.Severity = SeverityMedium
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeConnection:
		err.Severity = SeverityLow
	case ErrorTypeCircuit:
		err.Severity = SeverityHigh
	default:
		if err.StatusCode >= 500 {
			err.Severity = SeverityHigh
		} else {
			err.Severity = SeverityMedium
		}
	}
}

// ExecuteWithRetry executes a function with the handler's retry policy
func (eh *ErrorHandler) ExecuteWithRetry(ctx context.Context, operation func() error, operationName string) error {
	return eh.executeWithRetry(ctx, eh.retryPolicy, operation, operationName)
}

func (eh *ErrorHandler) executeWithRetry(ctx context.Context, policy *RetryPolicy, operation func() error, operationName string) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		classified := eh.ClassifyError(err, map[string]interface{}{
			"operation": operationName,
			"attempt":   attempt + 1,
		})
		lastErr = classified

		if !policy.retries(classified) {
			return classified
		}

		// Don't retry on last attempt
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.delay(attempt)
		if retryAfter, ok := classified.Context["retry_after"].(time.Duration); ok && retryAfter > delay {
			delay = retryAfter
		}

		eh.logger.WithError(classified).
			WithField("operation", operationName).
			WithField("attempt", attempt+1).
			WithField("delay_ms", delay.Milliseconds()).
			Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	eh.logger.WithError(lastErr).
		WithField("operation", operationName).
		WithField("max_attempts", policy.MaxAttempts).
		Error("Operation failed after all retry attempts")

	return lastErr
}

// ExecuteWithCircuitBreaker executes a function with circuit breaker protection
func (eh *ErrorHandler) ExecuteWithCircuitBreaker(ctx context.Context, operation func() error, breakerName string) error {
	return eh.getOrCreateCircuitBreaker(breakerName).Execute(operation)
}

// ExecuteWithFullProtection executes a function with both retry and circuit breaker protection
func (eh *ErrorHandler) ExecuteWithFullProtection(ctx context.Context, operation func() error, operationName string) error {
	return eh.ExecuteWithPolicy(ctx, nil, operation, operationName)
}

// ExecuteWithPolicy is ExecuteWithFullProtection with a caller-owned retry
// policy; nil uses the handler's policy.
func (eh *ErrorHandler) ExecuteWithPolicy(ctx context.Context, policy *RetryPolicy, operation func() error, operationName string) error {
	if policy == nil {
		policy = eh.retryPolicy
	}
	breakerName := fmt.Sprintf("%s_breaker", operationName)

	return eh.ExecuteWithCircuitBreaker(ctx, func() error {
		return eh.executeWithRetry(ctx, policy, operation, operationName)
	}, breakerName)
}

func (p *RetryPolicy) retries(err *ClassifiedError) bool {
	if !err.Retryable {
		return false
	}

	for _, retryableType := range p.RetryableErrors {
		if err.Type == retryableType {
			return true
		}
	}

	return false
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)

	for i := 0; i < attempt; i++ {
		delay *= p.BackoffFactor
	}

	if p.Jitter {
		jitterFactor := float64(time.Now().UnixNano()%100) / 100.0
		delay += delay * 0.1 * (2*jitterFactor - 1)
	}

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}

func (eh *ErrorHandler) getOrCreateCircuitBreaker(name string) *ErrorCircuitBreaker {
	eh.mutex.RLock()
	breaker, exists := eh.circuitBreakers[name]
	eh.mutex.RUnlock()

	if exists {
		return breaker
	}

	eh.mutex.Lock()
	defer eh.mutex.Unlock()

	if breaker, exists := eh.circuitBreakers[name]; exists {
		return breaker
	}

	breaker = NewErrorCircuitBreaker(name, 5, 60*time.Second)
	breaker.onStateChange = eh.onCircuitBreakerStateChange
	eh.circuitBreakers[name] = breaker

	return breaker
}

func (eh *ErrorHandler) onCircuitBreakerStateChange(name string, from, to ErrorCircuitBreakerState) {
	eh.logger.WithField("breaker_name", name).
		WithField("from_state", string(from)).
		WithField("to_state", string(to)).
		Info("Circuit breaker state changed")
}

// GetCircuitBreakerStatus returns the status of all circuit breakers
func (eh *ErrorHandler) GetCircuitBreakerStatus() map[string]ErrorCircuitBreakerState {
	eh.mutex.RLock()
	defer eh.mutex.RUnlock()

	status := make(map[string]ErrorCircuitBreakerState)
	for name, breaker := range eh.circuitBreakers {
		status[name] = breaker.GetState()
	}

	return status
}

// CheckCircuits fails while any outbound circuit breaker is open
func (eh *ErrorHandler) CheckCircuits(ctx context.Context) error {
	var open []string
	for name, state := range eh.GetCircuitBreakerStatus() {
		if state == ErrorCircuitBreakerOpen {
			open = append(open, name)
		}
	}
	if len(open) == 0 {
		return nil
	}
	sort.Strings(open)
	return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
}

// SetRetryPolicy sets a custom retry policy
func (eh *ErrorHandler) SetRetryPolicy(policy *RetryPolicy) {
	eh.retryPolicy = policy
}

func containsAny(s string, substrings ...string) bool {
	for _, substring := range substrings {
		if strings.Contains(s, substring) {
			return true
		}
	}
	return false
}
