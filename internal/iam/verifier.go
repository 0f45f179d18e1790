// Package iam verifies bearer tokens against the identity service.
//
// The production path calls the identity service over gRPC; a local
// HS256 mode exists for development and tests. Both paths sit behind
// the Verifier interface so the HTTP layer never knows which is wired.
package iam

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabular/tabular-backend/pkg/config"
	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/logger"
)

// Principal is the authenticated identity extracted from a token
type Principal struct {
	SubjectID string
	TokenID   string
	ExpiresAt time.Time
}

// Verifier validates an access token and returns the principal behind it
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (*Principal, error)
}

// RemoteVerifier is the raw transport call, without caching or breaker.
// Implemented by the gRPC client.
type RemoteVerifier interface {
	Verify(ctx context.Context, accessToken string) (*VerificationResult, error)
}

// VerificationResult is the identity service's answer for a token
type VerificationResult struct {
	IsValid         bool
	SubjectID       string
	TokenID         string
	ExpEpochSeconds uint64
	ErrorMessage    string
}

type cachedPrincipal struct {
	principal Principal
	expiresAt time.Time
}

type breakerState struct {
	consecutiveFailures int
	openedUntil         time.Time
}

// CachedVerifier wraps a RemoteVerifier with a verification cache and a
// circuit breaker. Cache entries are keyed by the SHA-256 of the token
// so raw tokens never sit in memory longer than the request. The
// breaker opens after a run of consecutive transport failures and
// rejects calls until the open window elapses; token rejections do not
// count as failures.
type CachedVerifier struct {
	remote           RemoteVerifier
	cacheTTL         time.Duration
	failureThreshold int
	openDuration     time.Duration
	logger           *logger.Logger

	cacheMu sync.RWMutex
	cache   map[string]cachedPrincipal

	breakerMu sync.Mutex
	breaker   breakerState

	now func() time.Time
}

// NewCachedVerifier creates the caching, breaker-guarded verifier
func NewCachedVerifier(remote RemoteVerifier, cfg *config.IAMConfig, log *logger.Logger) *CachedVerifier {
	return &CachedVerifier{
		remote:           remote,
		cacheTTL:         cfg.TokenCacheTTL(),
		failureThreshold: cfg.GRPCCircuitBreakerFailureThreshold,
		openDuration:     cfg.CircuitOpenDuration(),
		logger:           log.WithComponent("iam_verifier"),
		cache:            make(map[string]cachedPrincipal),
		now:              time.Now,
	}
}

// VerifyAccessToken validates the token, serving from the cache when a
// fresh entry exists and consulting the breaker before any remote call.
func (v *CachedVerifier) VerifyAccessToken(ctx context.Context, accessToken string) (*Principal, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errors.InvalidToken("access token is empty")
	}

	key := cacheKey(token)
	now := v.now()

	v.cacheMu.RLock()
	entry, ok := v.cache[key]
	v.cacheMu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		principal := entry.principal
		return &principal, nil
	}

	v.breakerMu.Lock()
	open := now.Before(v.breaker.openedUntil)
	v.breakerMu.Unlock()
	if open {
		return nil, errors.ServiceUnavailable("identity service circuit open")
	}

	result, err := v.remote.Verify(ctx, token)
	if err != nil {
		v.recordFailure(now)
		v.logger.Warn().Err(err).Msg("token verification transport failure")
		return nil, errors.ServiceUnavailable("identity service unavailable")
	}

	// A definitive rejection is a healthy answer from the identity
	// service, so the breaker stays untouched.
	v.recordSuccess()

	if !result.IsValid {
		return nil, errors.InvalidToken(result.ErrorMessage)
	}

	if _, err := uuid.Parse(result.SubjectID); err != nil {
		return nil, errors.InvalidToken("token subject is not a valid uuid")
	}

	principal := Principal{
		SubjectID: result.SubjectID,
		TokenID:   result.TokenID,
		ExpiresAt: time.Unix(int64(result.ExpEpochSeconds), 0).UTC(),
	}

	v.cacheMu.Lock()
	v.cache[key] = cachedPrincipal{
		principal: principal,
		expiresAt: now.Add(v.cacheTTL),
	}
	v.cacheMu.Unlock()

	return &principal, nil
}

func (v *CachedVerifier) recordFailure(now time.Time) {
	v.breakerMu.Lock()
	defer v.breakerMu.Unlock()

	v.breaker.consecutiveFailures++
	if v.breaker.consecutiveFailures >= v.failureThreshold {
		v.breaker.openedUntil = now.Add(v.openDuration)
		v.breaker.consecutiveFailures = 0
		v.logger.Warn().
			Dur("open_for", v.openDuration).
			Msg("identity service circuit opened")
	}
}

func (v *CachedVerifier) recordSuccess() {
	v.breakerMu.Lock()
	defer v.breakerMu.Unlock()
	v.breaker.consecutiveFailures = 0
	v.breaker.openedUntil = time.Time{}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
