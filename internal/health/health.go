// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks. Readiness reflects
// whether the Roku players behind the tuner pool answer control requests.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/rokutuner/internal/ecp"
	"github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/tuner"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version  string
	started  time.Time
	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{
		version:  version,
		started:  time.Now(),
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	checks := make(map[string]CheckResult, len(checkers))
	overall := StatusHealthy
	for _, checker := range checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return checks, overall
}

// Health performs a health check (liveness probe)
// Returns 200 if the process is alive, regardless of device state
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now(),
	}

	if verbose && len(m.snapshot()) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

func (m *Manager) snapshot() []Checker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkers
}

// Ready performs a readiness check (readiness probe)
// Returns 200 unless a registered checker reports unhealthy.
func (m *Manager) Ready(ctx context.Context, _ bool) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	if len(m.snapshot()) == 0 {
		return resp
	}

	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Ready(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// DeviceProber queries a player's identity.
type DeviceProber interface {
	DeviceInfo(ctx context.Context) (ecp.DeviceInfo, error)
}

// TunerLister returns the tuners currently in the pool.
type TunerLister interface {
	Tuners() []*tuner.Tuner
}

// TunerChecker probes every tuner's Roku player. The pool is healthy when
// all players answer, degraded when some do and unhealthy when none do.
type TunerChecker struct {
	pool    TunerLister
	devices func(address string) DeviceProber
	timeout time.Duration
}

// NewTunerChecker creates the device reachability checker.
func NewTunerChecker(pool TunerLister, devices func(address string) DeviceProber, timeout time.Duration) *TunerChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TunerChecker{pool: pool, devices: devices, timeout: timeout}
}

// RegistryDevices adapts an ECP client registry for the checker.
func RegistryDevices(r *ecp.Registry) func(address string) DeviceProber {
	return func(address string) DeviceProber { return r.Client(address) }
}

func (c *TunerChecker) Name() string {
	return "tuners"
}

func (c *TunerChecker) Check(ctx context.Context) CheckResult {
	tuners := c.pool.Tuners()
	if len(tuners) == 0 {
		return CheckResult{Status: StatusUnhealthy, Message: "no tuners configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu          sync.Mutex
		unreachable []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, t := range tuners {
		g.Go(func() error {
			if _, err := c.devices(t.RokuAddress).DeviceInfo(gctx); err != nil {
				mu.Lock()
				unreachable = append(unreachable, t.Name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(unreachable)

	reachable := len(tuners) - len(unreachable)
	msg := fmt.Sprintf("%d/%d players reachable", reachable, len(tuners))
	switch {
	case len(unreachable) == 0:
		return CheckResult{Status: StatusHealthy, Message: msg}
	case reachable == 0:
		return CheckResult{Status: StatusUnhealthy, Message: msg, Error: "unreachable: " + strings.Join(unreachable, ", ")}
	default:
		return CheckResult{Status: StatusDegraded, Message: msg, Error: "unreachable: " + strings.Join(unreachable, ", ")}
	}
}

// DirChecker checks that a directory exists and is writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string {
	return c.name
}

func (c *DirChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "not configured (optional)",
		}
	}
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "directory writable"}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}
