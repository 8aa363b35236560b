package marks

import (
	"context"

	"rvbot/internal/storage"
)

// ClaimResult is returned by a successful Claim. ExistingMarks is non-empty
// when the package already carried marks the new owner should look at.
type ClaimResult struct {
	ExistingMarks []storage.MarkRecord
}

// Claim assigns pkg to the actor.
func (e *Engine) Claim(ctx context.Context, pkg string, actor Actor) (ClaimResult, error) {
	e.fence.Lock()
	defer e.fence.Unlock()

	if owner, ok := e.store.Owner(pkg); ok {
		if owner.UserID == actor.UserID {
			return ClaimResult{}, newError(ErrAlreadyClaimed, "%s is already claimed by you", pkg)
		}
		return ClaimResult{}, newError(ErrAlreadyClaimed, "%s is already claimed by %s", pkg, e.Alias(owner.UserID))
	}
	e.store.AddClaim(actor.UserID, actor.DisplayName, pkg)
	if err := e.persistClaims(ctx); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{ExistingMarks: e.store.Marks(pkg)}, nil
}

// Release drops pkg from the actor's claims. Privileged actors may release
// packages held by anyone.
func (e *Engine) Release(ctx context.Context, pkg string, actor Actor) error {
	e.fence.Lock()
	defer e.fence.Unlock()
	return e.releaseLocked(ctx, pkg, actor)
}

func (e *Engine) releaseLocked(ctx context.Context, pkg string, actor Actor) error {
	owner, ok := e.store.Owner(pkg)
	if !ok {
		return newError(ErrMergeConflict, "%s is not in the claim records", pkg)
	}
	if owner.UserID != actor.UserID && !actor.Privileged {
		if _, has := e.store.Claim(actor.UserID); !has {
			return newError(ErrMergeConflict, "you have not claimed any package")
		}
		return newError(ErrMergeConflict, "%s is not in your claim records, contact %s", pkg, e.Alias(owner.UserID))
	}
	e.store.RemoveClaim(pkg)
	return e.persistClaims(ctx)
}

// Touch marks a claimed package as recently worked on.
func (e *Engine) Touch(ctx context.Context, pkg string) error {
	e.fence.Lock()
	defer e.fence.Unlock()
	if !e.store.Touch(pkg) {
		return nil
	}
	return e.persistClaims(ctx)
}
