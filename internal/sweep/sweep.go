// Package sweep marks borrows whose return date has passed as overdue.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

const defaultConcurrency = 4

var (
	dueApplicationStatuses = []exchange.Status{exchange.StatusBorrowed, exchange.StatusExtended}
	duePostingStatuses     = []exchange.Status{exchange.StatusLent, exchange.StatusExtended}
)

// Report counts what one pass did. Failed items are retried by the next pass.
type Report struct {
	Scanned        int `json:"scanned"`
	Marked         int `json:"marked"`
	PostingsMarked int `json:"postings_marked"`
	Failed         int `json:"failed"`
}

type Sweeper struct {
	repo        exchange.Repository
	ledger      *ledger.Ledger
	notifier    notification.Notifier
	concurrency int
}

func NewSweeper(repo exchange.Repository, l *ledger.Ledger, n notification.Notifier, concurrency int) *Sweeper {
	if n == nil {
		n = notification.Discard
	}

	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Sweeper{repo: repo, ledger: l, notifier: n, concurrency: concurrency}
}

// Run marks every borrow that ended before now. Each application is handled
// in its own transaction; one failure does not stop the rest.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	due, err := s.repo.ListDueApplications(ctx, now, dueApplicationStatuses)
	if err != nil {
		return Report{}, fmt.Errorf("listing due applications: %w", err)
	}

	var marked, postings, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, a := range due {
		g.Go(func() error {
			if ctx.Err() != nil {
				failed.Add(1)
				return nil
			}

			ok, postingOK, err := s.markOne(ctx, a.ID, a.PostingID, now)
			if err != nil {
				failed.Add(1)
				slog.Error("failed to mark borrow overdue", "application_id", a.ID, "error", err)

				return nil
			}

			if ok {
				marked.Add(1)
			}

			if postingOK {
				postings.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	r := Report{
		Scanned:        len(due),
		Marked:         int(marked.Load()),
		PostingsMarked: int(postings.Load()),
		Failed:         int(failed.Load()),
	}

	slog.Info("overdue sweep finished",
		"scanned", r.Scanned, "marked", r.Marked, "postings_marked", r.PostingsMarked, "failed", r.Failed)

	return r, nil
}

func (s *Sweeper) markOne(ctx context.Context, applicationID, postingID uuid.UUID, now time.Time) (bool, bool, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()

	p, err := tx.LockPosting(ctx, postingID)
	if err != nil {
		return false, false, err
	}

	a, err := tx.LockApplication(ctx, applicationID)
	if err != nil {
		return false, false, err
	}

	// The listing was read without locks; the borrow may have been returned
	// or extended since.
	if !exchange.StatusIn(a.Status, dueApplicationStatuses...) || a.Borrow == nil || !a.Borrow.Window.To.Before(now) {
		return false, false, nil
	}

	data := map[string]any{"duration_to": a.Borrow.Window.To.Format(time.RFC3339)}
	detail := ledger.Detail{Key: exchange.AutoDetailKey(a.Type.ApplicationSubject(), exchange.StatusOverdue), Data: data}

	if err := exchange.AdvanceApplication(ctx, tx, a, exchange.StatusOverdue, detail, nil); err != nil {
		return false, false, err
	}

	var postingMarked bool

	if exchange.StatusIn(p.Status, duePostingStatuses...) {
		postDetail := ledger.Detail{Key: exchange.AutoDetailKey(string(p.Type), exchange.StatusOverdue), Data: data}
		if err := exchange.AdvancePosting(ctx, tx, p, exchange.StatusOverdue, postDetail, nil); err != nil {
			return false, false, err
		}

		postingMarked = true
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("committing overdue: %w", err)
	}

	s.ledger.Publish(ctx, p.Ref(), a.Ref())

	overdue := func(user uuid.UUID, redirect string) notification.Event {
		return notification.Event{
			UserID:      user,
			Type:        notification.TypeBorrowOverdue,
			EntityID:    a.ID,
			ItemName:    p.Name,
			MessageKey:  detail.Key,
			MessageData: data,
			RedirectTo:  redirect,
		}
	}

	notification.Send(ctx, s.notifier,
		overdue(a.ApplicantID, "/applications/"+a.ID.String()),
		overdue(p.OwnerID, "/postings/"+p.ID.String()),
	)

	return true, postingMarked, nil
}
