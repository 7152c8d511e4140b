package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/store"
)

// ZoneStateMachine tracks the dependent's behavioral zone and enforces the
// transition authorization protocol. State is persisted through the store;
// a pending mediator Red proposal lives only in memory until confirmed.
type ZoneStateMachine struct {
	mu      sync.Mutex
	store   store.Store
	pending *pendingProposal
}

type pendingProposal struct {
	zone       models.Zone
	reason     string
	proposedAt time.Time
}

// NewZoneStateMachine creates a zone machine persisting through st.
func NewZoneStateMachine(st store.Store) *ZoneStateMachine {
	return &ZoneStateMachine{store: st}
}

// Zone returns the current zone state, defaulting to Green when no state has
// been recorded yet.
func (z *ZoneStateMachine) Zone() (models.ZoneState, error) {
	state, err := z.store.GetZoneState()
	if err != nil {
		return models.ZoneState{}, fmt.Errorf("read zone state: %w", err)
	}
	if state == nil {
		return models.ZoneState{Zone: models.ZoneGreen}, nil
	}
	return *state, nil
}

// PendingProposal returns the unconfirmed mediator proposal, if any, so the
// orchestrator can surface it to the guardian as a question.
func (z *ZoneStateMachine) PendingProposal() (models.Zone, string, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.pending == nil {
		return "", "", false
	}
	return z.pending.zone, z.pending.reason, true
}

// Propose attempts a zone transition on behalf of authorizedBy.
//
// Guardian requests commit directly. A mediator may only propose Red; the
// proposal is held pending guardian confirmation and the current state is
// returned with models.ErrNeedsAuthorization. Mediator Blue attempts are
// rejected the same way without being recorded. An unauthorized attempt never
// silently changes state.
func (z *ZoneStateMachine) Propose(zone models.Zone, authorizedBy models.Role, reason string, now time.Time) (models.ZoneState, error) {
	if !models.IsValidZone(zone) {
		return models.ZoneState{}, models.ErrInvalidZone
	}

	current, err := z.Zone()
	if err != nil {
		return models.ZoneState{}, err
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	switch authorizedBy {
	case models.RoleGuardian:
		// Guardian confirmation also resolves a matching pending proposal.
		if z.pending != nil && z.pending.zone == zone && reason == "" {
			reason = z.pending.reason
		}
		z.pending = nil
		return z.commit(zone, authorizedBy, reason, now)

	case models.RoleMediator:
		switch zone {
		case models.ZoneGreen:
			// Green is the default and needs no authorization.
			z.pending = nil
			return z.commit(zone, authorizedBy, reason, now)
		case models.ZoneRed:
			z.pending = &pendingProposal{zone: zone, reason: reason, proposedAt: now}
			slog.Info("ZoneStateMachine.Propose: Red proposed, awaiting guardian confirmation",
				"reason", reason, "currentZone", current.Zone)
			return current, models.ErrNeedsAuthorization
		default:
			slog.Warn("ZoneStateMachine.Propose: mediator Blue attempt rejected", "reason", reason)
			return current, models.ErrNeedsAuthorization
		}

	default:
		return current, models.ErrNeedsAuthorization
	}
}

func (z *ZoneStateMachine) commit(zone models.Zone, authorizedBy models.Role, reason string, now time.Time) (models.ZoneState, error) {
	state := models.ZoneState{Zone: zone, Reason: reason, AuthorizedBy: authorizedBy, ChangedAt: now}
	if err := z.store.SetZoneState(state); err != nil {
		return models.ZoneState{}, fmt.Errorf("persist zone state: %w", err)
	}
	slog.Info("ZoneStateMachine.commit: zone changed", "zone", zone, "authorizedBy", authorizedBy, "reason", reason)
	return state, nil
}
