// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tuner owns the fixed set of Roku/encoder pairs and hands them out
// exclusively to sessions.
package tuner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
	platformnet "github.com/ManuGH/rokutuner/internal/platform/net"
)

// Tuner is an immutable description of one device pair plus a pointer to its
// mutable state cell.
type Tuner struct {
	Name         string
	RokuAddress  string
	EncoderURL   string
	Priority     int
	EncodingMode string
	HWAccel      string
	Apps         []string

	order int
	slot  *slot
}

// Supports reports whether the tuner's player can run appID.
func (t *Tuner) Supports(appID string) bool {
	if len(t.Apps) == 0 || appID == "" {
		return true
	}
	for _, a := range t.Apps {
		if a == appID {
			return true
		}
	}
	return false
}

func (t *Tuner) identity() string {
	return t.Name + "|" + t.RokuAddress + "|" + t.EncoderURL
}

// slot is the per-tuner mutable state. status and owner only change together
// under mu.
type slot struct {
	mu     sync.Mutex
	status domain.TunerStatus
	owner  string
	since  time.Time
}

// Status is a point-in-time view of one tuner.
type Status struct {
	Name        string             `json:"name"`
	RokuAddress string             `json:"roku_address"`
	EncoderURL  string             `json:"encoder_url"`
	Priority    int                `json:"priority"`
	Status      domain.TunerStatus `json:"status"`
	Owner       string             `json:"session_id,omitempty"`
	Since       time.Time          `json:"since"`
}

// Request selects a tuner. Name pins a specific tuner; otherwise the lowest
// priority idle tuner that supports AppID is chosen.
type Request struct {
	Name  string
	AppID string
	Owner string
}

// Pool is the tuner registry. The tuner list is swapped wholesale on reload;
// individual tuner state is guarded by each tuner's own lock.
type Pool struct {
	mu      sync.RWMutex
	tuners  []*Tuner
	byName  map[string]*Tuner
	ecpPort int
	now     func() time.Time
	logger  zerolog.Logger
}

// NewPool builds a pool from tuner records.
func NewPool(records []config.Tuner, ecpPort int) (*Pool, error) {
	p := &Pool{
		ecpPort: ecpPort,
		now:     time.Now,
		logger:  xglog.WithComponent("pool"),
	}
	if err := p.Replace(records); err != nil {
		return nil, err
	}
	return p, nil
}

// Replace installs a new tuner list. Tuners whose name, device address and
// encoder are unchanged keep their state, so a device in use stays locked.
// Tuners that disappear survive only through outstanding handles, where
// release no longer affects the pool.
func (p *Pool) Replace(records []config.Tuner) error {
	tuners := make([]*Tuner, 0, len(records))
	for i, r := range records {
		addr, err := platformnet.NormalizeDeviceAddress(r.RokuAddress, p.ecpPort)
		if err != nil {
			return fmt.Errorf("%w: tuner %q: %w", domain.ErrConfigurationInvalid, r.Name, err)
		}
		tuners = append(tuners, &Tuner{
			Name:         r.Name,
			RokuAddress:  addr,
			EncoderURL:   r.EncoderURL,
			Priority:     r.EffectivePriority(),
			EncodingMode: strings.ToLower(r.EncodingMode),
			HWAccel:      strings.ToLower(r.HWAccel),
			Apps:         append([]string(nil), r.Apps...),
			order:        i,
		})
	}
	sort.SliceStable(tuners, func(i, j int) bool {
		return tuners[i].Priority < tuners[j].Priority
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	old := make(map[string]*Tuner, len(p.tuners))
	for _, t := range p.tuners {
		old[t.identity()] = t
	}
	byName := make(map[string]*Tuner, len(tuners))
	for _, t := range tuners {
		if prev, ok := old[t.identity()]; ok {
			t.slot = prev.slot
			delete(old, t.identity())
		} else {
			t.slot = &slot{since: p.now()}
			metrics.SetTunerState(t.Name, domain.TunerIdle.String())
		}
		byName[t.Name] = t
	}
	for _, gone := range old {
		if _, renamed := byName[gone.Name]; !renamed {
			metrics.ForgetTuner(gone.Name)
		}
		p.logger.Info().
			Str(xglog.FieldEvent, "pool.tuner_removed").
			Str(xglog.FieldTuner, gone.Name).
			Msg("tuner removed from pool")
	}
	p.tuners = tuners
	p.byName = byName
	return nil
}

// Acquire locks a tuner for req.Owner. It never waits: if no suitable tuner
// is idle it returns ErrNoTunerAvailable at once.
func (p *Pool) Acquire(req Request) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if req.Name != "" {
		t, ok := p.byName[req.Name]
		if !ok {
			metrics.RecordAcquisition("not_found")
			return nil, fmt.Errorf("%w: %s", domain.ErrTunerNotFound, req.Name)
		}
		if h := p.tryLock(t, req.Owner); h != nil {
			return h, nil
		}
		metrics.RecordAcquisition("busy")
		return nil, fmt.Errorf("%w: tuner %s is busy", domain.ErrNoTunerAvailable, req.Name)
	}

	for _, t := range p.tuners {
		if !t.Supports(req.AppID) {
			continue
		}
		if h := p.tryLock(t, req.Owner); h != nil {
			return h, nil
		}
	}
	metrics.RecordAcquisition("busy")
	return nil, domain.ErrNoTunerAvailable
}

func (p *Pool) tryLock(t *Tuner, owner string) *Handle {
	s := t.slot
	s.mu.Lock()
	if s.status != domain.TunerIdle {
		s.mu.Unlock()
		return nil
	}
	s.status = domain.TunerLocked
	s.owner = owner
	s.since = p.now()
	s.mu.Unlock()

	metrics.RecordAcquisition("acquired")
	metrics.SetTunerState(t.Name, domain.TunerLocked.String())
	p.logger.Info().
		Str(xglog.FieldEvent, "tuner.acquired").
		Str(xglog.FieldTuner, t.Name).
		Str(xglog.FieldSessionID, owner).
		Msg("tuner locked")
	return &Handle{pool: p, tuner: t, owner: owner}
}

// Release returns the handle's tuner to Idle. Releasing twice, or releasing a
// handle whose tuner was force-released or reassigned, is a no-op.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	h.Release()
}

// ReleaseByName idles a tuner by name regardless of owner and returns the
// owner it displaced.
func (p *Pool) ReleaseByName(name string) (string, error) {
	p.mu.RLock()
	t, ok := p.byName[name]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrTunerNotFound, name)
	}

	s := t.slot
	s.mu.Lock()
	owner := s.owner
	changed := s.status != domain.TunerIdle
	s.status = domain.TunerIdle
	s.owner = ""
	if changed {
		s.since = p.now()
	}
	s.mu.Unlock()

	if changed {
		metrics.SetTunerState(t.Name, domain.TunerIdle.String())
		p.logger.Info().
			Str(xglog.FieldEvent, "tuner.released_by_name").
			Str(xglog.FieldTuner, t.Name).
			Str(xglog.FieldSessionID, owner).
			Msg("tuner released by name")
	}
	return owner, nil
}

// Status returns a snapshot of every tuner in priority order.
func (p *Pool) Status() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Status, 0, len(p.tuners))
	for _, t := range p.tuners {
		t.slot.mu.Lock()
		out = append(out, Status{
			Name:        t.Name,
			RokuAddress: t.RokuAddress,
			EncoderURL:  platformnet.SanitizeURL(t.EncoderURL),
			Priority:    t.Priority,
			Status:      t.slot.status,
			Owner:       t.slot.owner,
			Since:       t.slot.since,
		})
		t.slot.mu.Unlock()
	}
	return out
}

// Lookup returns the tuner with the given name.
func (p *Pool) Lookup(name string) (*Tuner, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.byName[name]
	return t, ok
}

// Tuners returns the current tuner list in priority order.
func (p *Pool) Tuners() []*Tuner {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Tuner(nil), p.tuners...)
}

// Len returns the number of configured tuners.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tuners)
}
