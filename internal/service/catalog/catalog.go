// Package catalog holds the client and product catalogs that dictated
// references are matched against.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/observability/logging"
)

// ErrNotLoaded is returned by Store.Current before the first successful load.
var ErrNotLoaded = errors.New("catalog: not loaded")

// Provider fetches the raw catalogs.
type Provider interface {
	Clients(ctx context.Context) ([]models.ClientCandidate, error)
	Products(ctx context.Context) ([]models.ProductCandidate, error)
}

// Snapshot is an immutable view of both catalogs.
type Snapshot struct {
	clients      []models.ClientCandidate
	products     []models.ProductCandidate
	clientIdx    map[string]int
	productIdx   map[string]int
	clientNames  []string
	productNames []string
	matcher      *Matcher
	loadedAt     time.Time
}

// NewSnapshot copies clients and products into a new snapshot. Entries with
// duplicate ids keep the first occurrence for id lookup but remain
// matchable by name.
func NewSnapshot(clients []models.ClientCandidate, products []models.ProductCandidate, matcher *Matcher) *Snapshot {
	if matcher == nil {
		matcher = NewMatcher()
	}
	s := &Snapshot{
		clients:      append([]models.ClientCandidate(nil), clients...),
		products:     append([]models.ProductCandidate(nil), products...),
		clientIdx:    make(map[string]int, len(clients)),
		productIdx:   make(map[string]int, len(products)),
		clientNames:  make([]string, len(clients)),
		productNames: make([]string, len(products)),
		matcher:      matcher,
		loadedAt:     time.Now(),
	}
	for i, c := range s.clients {
		if _, ok := s.clientIdx[c.ID]; !ok {
			s.clientIdx[c.ID] = i
		}
		s.clientNames[i] = c.Name
	}
	for i, p := range s.products {
		if _, ok := s.productIdx[p.ID]; !ok {
			s.productIdx[p.ID] = i
		}
		s.productNames[i] = p.Name
	}
	return s
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Clients returns all clients in catalog order.
func (s *Snapshot) Clients() []models.ClientCandidate {
	return append([]models.ClientCandidate(nil), s.clients...)
}

// Products returns all products in catalog order.
func (s *Snapshot) Products() []models.ProductCandidate {
	return append([]models.ProductCandidate(nil), s.products...)
}

// Client looks a client up by id.
func (s *Snapshot) Client(id string) (models.ClientCandidate, bool) {
	i, ok := s.clientIdx[id]
	if !ok {
		return models.ClientCandidate{}, false
	}
	return s.clients[i], true
}

// Product looks a product up by id.
func (s *Snapshot) Product(id string) (models.ProductCandidate, bool) {
	i, ok := s.productIdx[id]
	if !ok {
		return models.ProductCandidate{}, false
	}
	return s.products[i], true
}

// MatchClients returns the clients whose name matches name, best first.
func (s *Snapshot) MatchClients(name string) []models.ClientCandidate {
	idx := s.matcher.Rank(name, s.clientNames)
	out := make([]models.ClientCandidate, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.clients[i])
	}
	return out
}

// MatchProducts returns the products whose name matches name, best first.
func (s *Snapshot) MatchProducts(name string) []models.ProductCandidate {
	idx := s.matcher.Rank(name, s.productNames)
	out := make([]models.ProductCandidate, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.products[i])
	}
	return out
}

// Load fetches both catalogs concurrently and builds a snapshot.
func Load(ctx context.Context, p Provider, matcher *Matcher) (*Snapshot, error) {
	var (
		clients  []models.ClientCandidate
		products []models.ProductCandidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clients, err = p.Clients(gctx)
		if err != nil {
			return fmt.Errorf("load clients: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = p.Products(gctx)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return NewSnapshot(clients, products, matcher), nil
}

// Store serves the latest snapshot and replaces it on Refresh. A failed
// refresh keeps the previous snapshot.
type Store struct {
	provider Provider
	matcher  *Matcher
	current  atomic.Pointer[Snapshot]
	logger   zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(p Provider, matcher *Matcher) *Store {
	return &Store{
		provider: p,
		matcher:  matcher,
		logger:   logging.WithComponent("catalog"),
	}
}

// Refresh reloads the catalogs.
func (s *Store) Refresh(ctx context.Context) error {
	snap, err := Load(ctx, s.provider, s.matcher)
	if err != nil {
		s.logger.Error().Err(err).Msg("Catalog refresh failed")
		return err
	}
	s.current.Store(snap)
	s.logger.Info().
		Int("clients", len(snap.clients)).
		Int("products", len(snap.products)).
		Msg("Catalog loaded")
	return nil
}

// Current returns the latest snapshot.
func (s *Store) Current() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Ready reports whether a snapshot is available.
func (s *Store) Ready() bool {
	return s.current.Load() != nil
}

// MatchClients matches against the current snapshot. It returns nil until a
// snapshot is loaded.
func (s *Store) MatchClients(name string) []models.ClientCandidate {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	return snap.MatchClients(name)
}

// MatchProducts matches against the current snapshot.
func (s *Store) MatchProducts(name string) []models.ProductCandidate {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	return snap.MatchProducts(name)
}

// Run refreshes the store every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}
