package relay

import (
	"context"
	"fmt"
	"strings"
)

// Resolver maps a chat id to its registration state. It never writes.
type Resolver struct {
	crm   CRM
	store Store
}

func NewResolver(crm CRM, store Store) *Resolver {
	return &Resolver{crm: crm, store: store}
}

// Resolve returns ErrResolutionUnavailable when either the CRM or the state
// store fails; callers must not fall back to treating the chat as new.
func (r *Resolver) Resolve(ctx context.Context, chatID string) (ResolvedIdentity, error) {
	rec, err := r.crm.FindRecordByChatID(ctx, chatID)
	if err != nil {
		return ResolvedIdentity{}, fmt.Errorf("%w: find record: %v", ErrResolutionUnavailable, err)
	}
	if rec != nil {
		return ResolvedIdentity{
			State:      Registered,
			RecordID:   rec.ID,
			RecordName: recordDisplayName(rec),
		}, nil
	}

	st, err := r.store.GetRegistration(ctx, chatID)
	if err != nil {
		return ResolvedIdentity{}, fmt.Errorf("%w: registration state: %v", ErrResolutionUnavailable, err)
	}
	if st != nil {
		return ResolvedIdentity{State: MidRegistration, Registration: st}, nil
	}
	return ResolvedIdentity{State: Unregistered}, nil
}

func recordDisplayName(rec *Record) string {
	if rec.FirstName != "" {
		return strings.TrimSpace(rec.Salutation + " " + rec.FirstName)
	}
	return rec.Name
}
