package exchange

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

// AdvancePosting appends next to a locked posting's history when the
// transition table allows it, and updates p in place.
func AdvancePosting(ctx context.Context, tx Tx, p *Posting, next Status, detail ledger.Detail, actor *uuid.UUID) error {
	if !CanTransitionPosting(p.Type, p.Status, next) {
		return apperror.InvalidState(
			string(p.Type)+".transition.invalid",
			"%s posting %s cannot move from %s to %s", p.Type, p.ID, p.Status, next,
		)
	}

	if _, err := ledger.Append(ctx, tx, p.Ref(), string(next), detail, actor); err != nil {
		return err
	}

	p.Status = next

	return nil
}

// AdvanceApplication is AdvancePosting for applications.
func AdvanceApplication(ctx context.Context, tx Tx, a *Application, next Status, detail ledger.Detail, actor *uuid.UUID) error {
	if !CanTransitionApplication(a.Type, a.Status, next) {
		return apperror.InvalidState(
			a.Type.ApplicationSubject()+".transition.invalid",
			"%s application %s cannot move from %s to %s", a.Type, a.ID, a.Status, next,
		)
	}

	if _, err := ledger.Append(ctx, tx, a.Ref(), string(next), detail, actor); err != nil {
		return err
	}

	a.Status = next

	return nil
}

// StatusIn reports whether s is one of allowed.
func StatusIn(s Status, allowed ...Status) bool {
	return slices.Contains(allowed, s)
}
