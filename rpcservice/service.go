package rpcservice

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/Daanvdplas/Smoldot/chains"
	"github.com/Daanvdplas/Smoldot/engine"
	"github.com/Daanvdplas/Smoldot/rpcservice/config"
)

const reportInterval = 6500 * time.Millisecond

// Service is the top-level chain registry. Chains are added from a textual
// chain specification and removed by identifier; each owns an isolated
// engine handle, dispatcher and subscription table, so chains never share
// request state.
type Service struct {
	services.Service
	eng *services.Engine

	lggr      logger.Logger
	cfg       *config.ServiceConfig
	caps      engine.Capabilities
	newEngine engine.Factory

	chainsMu sync.RWMutex
	chains   map[chains.ID]*Chain
}

// lastChainID is process-wide: identifiers stay monotonic even across
// registry instances, so a stale ID can never alias a newer chain.
var lastChainID atomic.Uint64

// New constructs the service. Fields left nil in cfg fall back to defaults.
func New(lggr logger.Logger, cfg *config.ServiceConfig, caps engine.Capabilities, newEngine engine.Factory) *Service {
	resolved := config.NewDefault()
	if cfg != nil {
		resolved.SetFrom(cfg)
	}
	s := &Service{
		cfg:       resolved,
		caps:      caps,
		newEngine: newEngine,
		chains:    make(map[chains.ID]*Chain),
	}
	s.lggr = lggr
	s.Service, s.eng = services.Config{
		Name:  "LightClientRPC",
		Start: s.start,
		Close: s.close,
	}.NewServiceEngine(lggr)
	return s
}

func (s *Service) start(context.Context) error {
	s.eng.Go(s.reportLoop)
	return nil
}

func (s *Service) close() error {
	s.chainsMu.Lock()
	all := make([]*Chain, 0, len(s.chains))
	for id, ch := range s.chains {
		ch.stopIntake()
		all = append(all, ch)
		delete(s.chains, id)
	}
	s.chainsMu.Unlock()

	promChains.Set(0)
	return services.CloseAll(services.MultiCloser(all))
}

// AddChain registers a new chain from its textual specification and starts
// tracking it. The operation is atomic: on any failure no chain is
// registered and the engine handle, if constructed, is torn down.
func (s *Service) AddChain(ctx context.Context, specJSON []byte) (*Chain, error) {
	var ch *Chain
	err := s.eng.IfNotStopped(func() error {
		spec, err := chains.ParseSpec(specJSON)
		if err != nil {
			return &AddChainError{Reason: "invalid chain specification", Err: err}
		}
		if spec.IsParachain() && !s.hasChainNamed(spec.RelayChain) {
			return &AddChainError{Reason: "relay chain " + spec.RelayChain + " is not tracked"}
		}

		handle, err := s.newEngine(ctx, spec, s.caps)
		if err != nil {
			return &AddChainError{Reason: "engine construction failed", Err: err}
		}

		id := chains.ID(lastChainID.Add(1))
		ch, err = newChain(s.lggr, id, spec, engine.NewObserved(handle, id), s.caps, s.cfg)
		if err == nil {
			err = ch.Start(ctx)
		}
		if err != nil {
			if cerr := handle.Close(); cerr != nil {
				s.lggr.Errorw("Failed to close engine after aborted add", "chain", spec.Name, "err", cerr)
			}
			ch = nil
			return &AddChainError{Reason: "chain startup failed", Err: err}
		}

		s.chainsMu.Lock()
		s.chains[id] = ch
		s.chainsMu.Unlock()
		promChains.Inc()
		s.lggr.Infow("Added chain", "chainID", id, "chain", spec.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// RemoveChain unregisters a chain. The identifier is invalid as soon as the
// call returns; draining in-flight work and closing the engine handle
// proceed in the background.
func (s *Service) RemoveChain(id chains.ID) error {
	s.chainsMu.Lock()
	ch, ok := s.chains[id]
	if !ok {
		s.chainsMu.Unlock()
		return ErrUnknownChain
	}
	delete(s.chains, id)
	s.chainsMu.Unlock()
	promChains.Dec()

	ch.stopIntake()
	s.eng.Go(func(context.Context) {
		if err := ch.Close(); err != nil {
			s.lggr.Errorw("Failed to close removed chain", "chainID", id, "err", err)
		}
		s.lggr.Infow("Removed chain", "chainID", id, "chain", ch.Name())
	})
	return nil
}

// Chain returns the registered chain with the given identifier.
func (s *Service) Chain(id chains.ID) (*Chain, error) {
	s.chainsMu.RLock()
	defer s.chainsMu.RUnlock()
	ch, ok := s.chains[id]
	if !ok {
		return nil, ErrUnknownChain
	}
	return ch, nil
}

// Chains returns the identifiers of all registered chains, ascending.
func (s *Service) Chains() []chains.ID {
	s.chainsMu.RLock()
	ids := make([]chains.ID, 0, len(s.chains))
	for id := range s.chains {
		ids = append(ids, id)
	}
	s.chainsMu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (s *Service) hasChainNamed(name string) bool {
	s.chainsMu.RLock()
	defer s.chainsMu.RUnlock()
	for _, ch := range s.chains {
		if ch.Name() == name {
			return true
		}
	}
	return false
}

func (s *Service) reportLoop(ctx context.Context) {
	ticker := services.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.chainsMu.RLock()
			n := len(s.chains)
			s.chainsMu.RUnlock()
			promChains.Set(float64(n))
			s.lggr.Debugw("Tracked chains", "count", n)
		}
	}
}
