// Package progress derives stage and loan completion from the document
// store and the category catalog. Computation is a side-effect-free scan;
// the aggregator only caches results keyed by the store's write watermark.
package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"loanflow/pkg/catalog"
	"loanflow/pkg/domain"
	"loanflow/pkg/store"
)

// Compute derives StageProgress from a stage's categories and a loan's
// documents for that stage. A required category is satisfied iff at least
// one of its documents is approved; pending or rejected submissions never
// count toward completion. Zero required categories yields percentage 0,
// keeping loan-wide averages free of division artifacts.
func Compute(stage domain.Stage, categories []domain.Category, docs []domain.Document) domain.StageProgress {
	byCategory := make(map[string][]domain.Document)
	for _, d := range docs {
		byCategory[d.Category] = append(byCategory[d.Category], d)
	}

	sp := domain.StageProgress{
		Stage:      stage,
		Categories: make([]domain.CategoryState, 0, len(categories)),
	}
	for _, cat := range categories {
		state := categoryState(cat, byCategory[cat.ID])
		sp.Categories = append(sp.Categories, state)
		if !cat.Required {
			continue
		}
		sp.RequiredTotal++
		if state.IsApproved {
			sp.RequiredSatisfied++
		}
	}
	if sp.RequiredTotal > 0 {
		sp.Percentage = int(math.Round(100 * float64(sp.RequiredSatisfied) / float64(sp.RequiredTotal)))
	}
	return sp
}

func categoryState(cat domain.Category, docs []domain.Document) domain.CategoryState {
	state := domain.CategoryState{
		CategoryID:  cat.ID,
		DisplayName: cat.DisplayName,
		Required:    cat.Required,
		HasDocument: len(docs) > 0,
	}
	if len(docs) == 0 {
		return state
	}
	allRejected := true
	for _, d := range docs {
		switch d.Status {
		case domain.StatusApproved:
			state.IsApproved = true
			allRejected = false
		case domain.StatusPending:
			allRejected = false
		}
	}
	state.IsRejected = allRejected
	state.IsPending = !state.IsApproved && !allRejected
	return state
}

type memoEntry struct {
	watermark time.Time
	progress  domain.StageProgress
}

// Aggregator reads the store through the catalog and memoizes per-stage
// results against the loan watermark.
type Aggregator struct {
	store   store.Store
	catalog *catalog.Catalog

	mu   sync.Mutex
	memo map[string]memoEntry // loanID + "/" + stage
}

// NewAggregator wires an aggregator over a store and catalog.
func NewAggregator(s store.Store, c *catalog.Catalog) *Aggregator {
	return &Aggregator{
		store:   s,
		catalog: c,
		memo:    make(map[string]memoEntry),
	}
}

// StageProgress computes (or returns cached) progress for one stage.
func (a *Aggregator) StageProgress(loanID string, stage domain.Stage) (domain.StageProgress, error) {
	categories, err := a.catalog.CategoriesFor(stage)
	if err != nil {
		return domain.StageProgress{}, err
	}
	watermark, hasDocs, err := a.store.LastModified(loanID)
	if err != nil {
		return domain.StageProgress{}, err
	}
	if !hasDocs {
		// Nothing uploaded yet; no cache entry needed.
		return Compute(stage, categories, nil), nil
	}

	key := loanID + "/" + string(stage)
	a.mu.Lock()
	if entry, ok := a.memo[key]; ok && entry.watermark.Equal(watermark) {
		a.mu.Unlock()
		return entry.progress, nil
	}
	a.mu.Unlock()

	docs, err := a.store.ListByStage(loanID, stage)
	if err != nil {
		return domain.StageProgress{}, err
	}
	sp := Compute(stage, categories, docs)

	a.mu.Lock()
	a.memo[key] = memoEntry{watermark: watermark, progress: sp}
	a.mu.Unlock()
	return sp, nil
}

// LoanProgress computes every stage's progress, fanning out across stages.
func (a *Aggregator) LoanProgress(ctx context.Context, loanID string) (domain.LoanProgress, error) {
	results := make([]domain.StageProgress, len(domain.Stages))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(len(domain.Stages))
	for i, stage := range domain.Stages {
		i, stage := i, stage
		g.Go(func() error {
			sp, err := a.StageProgress(loanID, stage)
			if err != nil {
				return err
			}
			results[i] = sp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.LoanProgress{}, err
	}
	return domain.LoanProgress{LoanID: loanID, Stages: results}, nil
}
