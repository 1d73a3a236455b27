// Package reconcile diffs a fresh set of listings against the stored snapshot
// and commits the fresh set as the new snapshot.
package reconcile

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/store"
)

// UpdateResult is the outcome of one reconciliation.
type UpdateResult struct {
	// Added holds listings whose identity was not in the stored snapshot,
	// grouped by source in input order. Every known source has a key.
	Added map[model.Source][]model.Listing
	// Removed holds the sorted identities that were stored but not seen.
	Removed []string
	// RemovedBySource counts Removed per source.
	RemovedBySource map[model.Source]int
	// Unchanged counts identities present in both sets.
	Unchanged int
	// Total is the size of the committed snapshot.
	Total int
	// Committed reports whether the new snapshot was saved.
	Committed bool
}

// AddedCount returns the number of added listings across sources.
func (r *UpdateResult) AddedCount() int {
	n := 0
	for _, ls := range r.Added {
		n += len(ls)
	}
	return n
}

// AllAdded returns the added listings in source order.
func (r *UpdateResult) AllAdded() []model.Listing {
	var out []model.Listing
	for _, src := range model.AllSources {
		out = append(out, r.Added[src]...)
	}
	for src, ls := range r.Added {
		if !src.Valid() {
			out = append(out, ls...)
		}
	}
	return out
}

// Options tunes a single reconciliation.
type Options struct {
	// RetainSources lists sources whose stored listings are carried forward
	// unchanged instead of being reported as removed. The runner fills it
	// with the sources that failed this run when retention is enabled.
	RetainSources []model.Source
	// DryRun computes the result without saving it.
	DryRun bool
}

// Reconciler computes and commits snapshot changes.
type Reconciler struct {
	store store.SnapshotStore
	log   *zap.Logger
}

// New creates a Reconciler over st.
func New(st store.SnapshotStore) *Reconciler {
	return &Reconciler{
		store: st,
		log:   zap.L().With(zap.String("component", "reconcile")),
	}
}

// Reconcile diffs listings against the stored snapshot and saves listings as
// the new snapshot.
//
// If the stored snapshot cannot be loaded nothing is saved and the load error
// is returned with a nil result. If the save fails the computed result is
// returned with Committed false together with the save error.
func (r *Reconciler) Reconcile(ctx context.Context, listings []model.Listing, opts Options) (*UpdateResult, error) {
	fresh := make(model.Snapshot, len(listings))
	order := make([]string, 0, len(listings))
	for _, l := range listings {
		id := l.Identity()
		if _, dup := fresh[id]; dup {
			r.log.Debug("identity collision, keeping last listing",
				zap.String("identity", id),
				zap.String("source", string(l.Source)),
			)
		} else {
			order = append(order, id)
		}
		fresh[id] = l
	}

	stored, err := r.store.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load snapshot")
	}

	retain := make(map[model.Source]bool, len(opts.RetainSources))
	for _, src := range opts.RetainSources {
		retain[src] = true
	}

	res := &UpdateResult{
		Added:           make(map[model.Source][]model.Listing, len(model.AllSources)),
		Removed:         []string{},
		RemovedBySource: make(map[model.Source]int, len(model.AllSources)),
	}
	for _, src := range model.AllSources {
		res.Added[src] = []model.Listing{}
		res.RemovedBySource[src] = 0
	}

	for _, id := range order {
		l := fresh[id]
		if _, ok := stored[id]; ok {
			res.Unchanged++
			continue
		}
		res.Added[l.Source] = append(res.Added[l.Source], l)
	}

	for id, l := range stored {
		if _, ok := fresh[id]; ok {
			continue
		}
		if retain[l.Source] {
			fresh[id] = l
			continue
		}
		res.Removed = append(res.Removed, id)
		res.RemovedBySource[l.Source]++
	}
	sort.Strings(res.Removed)
	res.Total = len(fresh)

	if opts.DryRun {
		r.log.Info("dry run, snapshot left untouched",
			zap.Int("added", res.AddedCount()),
			zap.Int("removed", len(res.Removed)),
		)
		return res, nil
	}

	if err := r.store.Save(ctx, fresh); err != nil {
		r.log.Error("snapshot not committed", zap.Error(err))
		return res, eris.Wrap(err, "reconcile: save snapshot")
	}
	res.Committed = true

	r.log.Info("snapshot reconciled",
		zap.Int("added", res.AddedCount()),
		zap.Int("removed", len(res.Removed)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("total", res.Total),
	)
	return res, nil
}
