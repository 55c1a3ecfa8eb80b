// Package rpcpool selects, scores and fails over between a chain's JSON-RPC
// endpoints. It mirrors node/sc/bridge_manager.go's journal+subscribe+loop
// shape: a set of endpoint records kept in memory, periodically
// re-validated, with the healthiest ones handed to callers one call at a
// time (spec section 4.3).
package rpcpool

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// BackupLevel buckets endpoints into priority bands; level 0 is tried
// before level 1, and so on, only falling through when an entire band is
// unusable.
type BackupLevel int

// Endpoint is one configured RPC URL plus its live health/score state.
type Endpoint struct {
	Name         string
	URL          string
	ChainID      int64
	BackupLevel  BackupLevel
	MaxTimeout   time.Duration

	score        atomic.Int64
	consecutiveErrs atomic.Int64
	lastError    atomic.String
	lastSuccess  atomic.Int64 // unix nanos
	lastChecked  atomic.Int64 // unix nanos
	verified     atomic.Bool
	removed      atomic.Bool

	scoreValidation  atomic.Int64
	lastVerifyAt     atomic.Int64 // unix nanos
	lastVerifyResult atomic.String

	mu sync.RWMutex
}

const (
	scoreInitial      = 100
	scoreSuccessDelta = 5
	scoreErrorDelta   = -20
	scoreValidationDelta = 10
	scoreMax          = 200
	scoreMin          = -200
)

func newEndpoint(name, url string, chainID int64, level BackupLevel, maxTimeout time.Duration) *Endpoint {
	e := &Endpoint{Name: name, URL: url, ChainID: chainID, BackupLevel: level, MaxTimeout: maxTimeout}
	e.score.Store(scoreInitial)
	return e
}

// Score is the current health score: higher is healthier. choose_best_endpoints
// ranks endpoints within a backup level by this value.
func (e *Endpoint) Score() int64 { return e.score.Load() }

// Healthy reports whether the endpoint is currently eligible for selection:
// not manually removed, and not in a consecutive-error penalty box.
func (e *Endpoint) Healthy() bool {
	return !e.removed.Load() && e.consecutiveErrs.Load() < maxConsecutiveErrs
}

const maxConsecutiveErrs = 5

func (e *Endpoint) markSuccess() {
	e.consecutiveErrs.Store(0)
	e.lastSuccess.Store(time.Now().UnixNano())
	e.lastChecked.Store(time.Now().UnixNano())
	e.verified.Store(true)
	newScore := e.score.Load() + scoreSuccessDelta
	if newScore > scoreMax {
		newScore = scoreMax
	}
	e.score.Store(newScore)
}

func (e *Endpoint) markError(reason string) {
	e.consecutiveErrs.Add(1)
	e.lastError.Store(reason)
	e.lastChecked.Store(time.Now().UnixNano())
	newScore := e.score.Load() + scoreErrorDelta
	if newScore < scoreMin {
		newScore = scoreMin
	}
	e.score.Store(newScore)
}

// LastError returns the most recent recorded error string, empty if none.
func (e *Endpoint) LastError() string { return e.lastError.Load() }

// markValidationSuccess records a passing periodic validation (spec section
// 4.3 step 2-3): it is the only way an endpoint that tripped
// max_consecutive_errors is returned to rotation, since choose_best_endpoints
// never hands an unhealthy endpoint to Call in the first place.
func (e *Endpoint) markValidationSuccess() {
	e.consecutiveErrs.Store(0)
	e.lastVerifyAt.Store(time.Now().UnixNano())
	e.lastVerifyResult.Store("ok")
	newScore := e.score.Load() + scoreValidationDelta
	if newScore > scoreMax {
		newScore = scoreMax
	}
	e.score.Store(newScore)
	e.scoreValidation.Store(1)
}

// markValidationFailure records a failed periodic validation. It does not by
// itself push the endpoint past max_consecutive_errors — validation failure
// and call failure are independent signals that both feed score_effective —
// but it does mean a currently-excluded endpoint stays excluded.
func (e *Endpoint) markValidationFailure(reason string) {
	e.lastVerifyAt.Store(time.Now().UnixNano())
	e.lastVerifyResult.Store(reason)
	e.scoreValidation.Store(-1)
}

// LastVerifyAt returns the time of the most recent validation attempt, the
// zero time if none has run yet.
func (e *Endpoint) LastVerifyAt() time.Time {
	ns := e.lastVerifyAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastVerifyResult returns "ok", an error classification string, or "" if no
// validation has run yet.
func (e *Endpoint) LastVerifyResult() string { return e.lastVerifyResult.Load() }

// ScoreValidation returns the latest validation's contribution to
// score_effective: 1 after a pass, -1 after a fail, 0 before the first run.
func (e *Endpoint) ScoreValidation() int64 { return e.scoreValidation.Load() }

// ScoreEffective blends the reactive call-based score with the latest
// validation outcome, spec section 4.3 step 3.
func (e *Endpoint) ScoreEffective() int64 {
	return e.score.Load() + e.scoreValidation.Load()*scoreValidationDelta
}
