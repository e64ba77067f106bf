// Package engine composes the bucket, hasher, repoconfig and repository
// packages into the two operations Muteacle exists to provide: Witness
// and Verify. It carries no persistent state of its own; every call
// reads and writes through the wrapped Repository.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mounaiban/muteacle/internal/muteacle/hasher"
	"github.com/mounaiban/muteacle/internal/muteacle/metrics"
	"github.com/mounaiban/muteacle/internal/muteacle/repository"
)

// WitnessOptions selects which hasher class and parameters to witness
// with. A zero value lets the Repository choose automatically.
type WitnessOptions struct {
	Class  hasher.Class
	Params map[string]any
}

// WitnessReport is the Engine-level result of a Witness call.
type WitnessReport struct {
	IntervalStart time.Time
	ItemsLogged   int
	ItemsTotal    int
}

// Engine is the public entry point for witnessing and verifying data
// against a Repository.
type Engine struct {
	repo *repository.Repository
}

// New wraps repo as an Engine.
func New(repo *repository.Repository) *Engine {
	return &Engine{repo: repo}
}

// Witness records every item in items as witnessed now, returning the
// interval it was recorded under.
func (e *Engine) Witness(ctx context.Context, items [][]byte, opts WitnessOptions) (WitnessReport, error) {
	timer := metrics.StartWitness()
	defer timer.ObserveDuration()

	report, err := e.repo.Witness(ctx, items, opts.Class, opts.Params)
	if err != nil {
		metrics.WitnessFailures.Inc()
		return WitnessReport{}, fmt.Errorf("engine: witness: %w", err)
	}
	metrics.ItemsWitnessed.Add(float64(report.ItemsLogged))
	return WitnessReport{
		IntervalStart: report.IntervalStart,
		ItemsLogged:   report.ItemsLogged,
		ItemsTotal:    report.ItemsTotal,
	}, nil
}

// Verify reports whether item was witnessed at approximately at.
func (e *Engine) Verify(ctx context.Context, at time.Time, item []byte) (bool, error) {
	timer := metrics.StartVerify()
	defer timer.ObserveDuration()

	found, err := e.repo.CheckLog(ctx, at, item)
	if err != nil {
		metrics.VerifyFailures.Inc()
		return false, fmt.Errorf("engine: verify: %w", err)
	}
	if found {
		metrics.ItemsVerifiedHit.Inc()
	} else {
		metrics.ItemsVerifiedMiss.Inc()
	}
	return found, nil
}
