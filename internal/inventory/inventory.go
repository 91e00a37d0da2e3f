// Package inventory keeps a bounded queue of pre-vetted posts per account
// so a consumer always has something ready without waiting on generation.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

// Producer generates one candidate for an account. The generator satisfies
// this; tests inject their own.
type Producer interface {
	GenerateForAccount(ctx context.Context, account string) (*models.CandidatePost, error)
}

// Manager maintains per-account stock between the configured min and max.
type Manager struct {
	cfg      config.StockConfig
	store    store.StockStore
	producer Producer
	accounts []string
	metrics  *metrics.Metrics
}

// New creates a manager for the given accounts.
func New(cfg config.StockConfig, backend store.StockStore, producer Producer, accounts []string, m *metrics.Metrics) *Manager {
	if cfg.MinPerAccount == 0 {
		cfg.MinPerAccount = 3
	}
	if cfg.MaxPerAccount == 0 {
		cfg.MaxPerAccount = 10
	}
	if cfg.RefillConcurrency == 0 {
		cfg.RefillConcurrency = 4
	}
	return &Manager{cfg: cfg, store: backend, producer: producer, accounts: accounts, metrics: m}
}

// Consume atomically claims the highest-scoring unused post for the
// account. Two concurrent calls never receive the same post. Returns
// store.ErrNoStock when the account's stock is empty.
func (m *Manager) Consume(ctx context.Context, account string) (*models.StockedPost, error) {
	post, err := m.store.ConsumePost(ctx, account)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.StockConsumed.WithLabelValues(account).Inc()
	}
	m.publishCount(ctx, account)
	return post, nil
}

// Status reports each account's unused count and whether it is below the
// refill floor.
func (m *Manager) Status(ctx context.Context) ([]models.StockStatus, error) {
	counts, err := m.store.UnusedCounts(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]models.StockStatus, 0, len(m.accounts))
	for _, account := range m.accounts {
		n := counts[account]
		statuses = append(statuses, models.StockStatus{
			Account:     account,
			UnusedCount: n,
			NeedsRefill: n < m.cfg.MinPerAccount,
		})
	}
	return statuses, nil
}

// Refill tops an account up toward the minimum. It generates one spare
// beyond the shortfall to absorb a quality failure, stocks every candidate
// at or above the quality floor, and evicts the oldest unused posts if the
// account ends up over the maximum.
func (m *Manager) Refill(ctx context.Context, account string) (*models.RefillResult, error) {
	result := &models.RefillResult{Account: account}

	unused, err := m.store.UnusedCount(ctx, account)
	if err != nil {
		return nil, err
	}
	needed := m.cfg.MinPerAccount - unused
	budget := needed + 1

	for i := 0; i < budget && result.Added < needed; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		candidate, err := m.producer.GenerateForAccount(ctx, account)
		if err != nil {
			result.Failed++
			log.Printf("[Inventory] generation for %s failed: %v", account, err)
			continue
		}
		if candidate.Score.Total < m.cfg.MinQualityScore {
			result.Failed++
			continue
		}

		post := &models.StockedPost{
			ID:           uuid.New().String(),
			Account:      account,
			Text:         candidate.Text,
			TargetLabel:  candidate.TargetLabel,
			BenefitLabel: candidate.BenefitLabel,
			PatternLabel: candidate.PatternLabel,
			Score:        candidate.Score.Total,
			CreatedAt:    time.Now(),
		}
		if err := m.store.InsertPost(ctx, post); err != nil {
			return result, fmt.Errorf("stock post for %s: %w", account, err)
		}
		result.Added++
		if m.metrics != nil {
			m.metrics.StockRefilled.WithLabelValues(account).Inc()
		}
	}

	evicted, err := m.store.EvictOldestUnused(ctx, account, m.cfg.MaxPerAccount)
	if err != nil {
		return result, fmt.Errorf("evict overflow for %s: %w", account, err)
	}
	result.Evicted = evicted
	if m.metrics != nil && evicted > 0 {
		m.metrics.StockEvicted.WithLabelValues(account).Add(float64(evicted))
	}

	m.publishCount(ctx, account)
	return result, nil
}

// RefillAll refills every account concurrently, bounded by the configured
// refill concurrency. Per-account failures are collected, not fatal: one
// account's broken provider must not starve the others.
func (m *Manager) RefillAll(ctx context.Context) ([]*models.RefillResult, error) {
	results := make([]*models.RefillResult, len(m.accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.RefillConcurrency)

	var mu sync.Mutex
	var errs []error
	for i, account := range m.accounts {
		i, account := i, account
		g.Go(func() error {
			res, err := m.Refill(gctx, account)
			if res == nil {
				res = &models.RefillResult{Account: account}
			}
			results[i] = res
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("refill %s: %w", account, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

// publishCount refreshes the per-account unused gauge.
func (m *Manager) publishCount(ctx context.Context, account string) {
	if m.metrics == nil {
		return
	}
	if n, err := m.store.UnusedCount(ctx, account); err == nil {
		m.metrics.StockUnused.WithLabelValues(account).Set(float64(n))
	}
}
