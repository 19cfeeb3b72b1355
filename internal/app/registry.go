package app

import (
	"sort"
	"sync"
	"time"

	"orbBot/internal/domain"
	"orbBot/internal/strategy/orb"
)

// Registry owns the per-symbol trading states of a session. Each state is
// handed to exactly one task; other goroutines only see published snapshots.
type Registry struct {
	mu        sync.RWMutex
	loc       *time.Location
	states    map[string]*orb.SymbolTradingState
	snapshots map[string]orb.SymbolTradingState
}

// NewRegistry creates an empty registry. Trading days are compared in loc.
func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		loc:       loc,
		states:    make(map[string]*orb.SymbolTradingState),
		snapshots: make(map[string]orb.SymbolTradingState),
	}
}

// StateFor returns the state of symbol for the trading day of date. A state
// left over from an earlier day is reset before it is returned.
func (r *Registry) StateFor(symbol string, date time.Time) *orb.SymbolTradingState {
	date = date.In(r.loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[symbol]
	switch {
	case !ok:
		st = orb.NewSymbolTradingState(symbol, date)
		r.states[symbol] = st
	case !domain.SameTradingDay(st.TestDate, date, r.loc):
		st.Reset(date)
	}
	r.snapshots[symbol] = st.Snapshot()
	return st
}

// Publish records a snapshot of st. Must be called by the task owning st.
func (r *Registry) Publish(st *orb.SymbolTradingState) {
	snap := st.Snapshot()
	r.mu.Lock()
	r.snapshots[st.Symbol] = snap
	r.mu.Unlock()
}

// Snapshot returns the last published state of symbol.
func (r *Registry) Snapshot(symbol string) (orb.SymbolTradingState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[symbol]
	return snap, ok
}

// Symbols returns the registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.states))
	for s := range r.states {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
