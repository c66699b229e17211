package coach

import (
	"fmt"

	"github.com/sbaglivi/RunGraph/models"
)

type NegotiationState int

const (
	Verifying NegotiationState = iota
	AwaitingDecision
	Coherent
	Escalated
)

func (s NegotiationState) String() string {
	switch s {
	case Verifying:
		return "verifying"
	case AwaitingDecision:
		return "awaiting_decision"
	case Coherent:
		return "coherent"
	case Escalated:
		return "escalated"
	}
	return fmt.Sprintf("NegotiationState(%d)", int(s))
}

// Negotiation drives the verify/propose/decide cycle over a session state.
// The failure budget is the state's FailureCount; once it exceeds the
// ceiling the negotiation escalates and stays there. Accepting a change
// refills that budget, so Rounds separately caps the incoherent
// verifications of the whole negotiation.
type Negotiation struct {
	State NegotiationState
	// Rounds counts incoherent verifications.
	Rounds    int
	ceiling   int
	maxRounds int
}

// NewNegotiation starts in Verifying. A zero maxRounds leaves the rounds
// unbounded.
func NewNegotiation(ceiling, maxRounds int) *Negotiation {
	return &Negotiation{State: Verifying, ceiling: ceiling, maxRounds: maxRounds}
}

// OverRounds reports whether the negotiation escalated on the rounds cap
// rather than on the failure count.
func (n *Negotiation) OverRounds() bool {
	return n.maxRounds > 0 && n.Rounds > n.maxRounds
}

// OnCheck records a verification result.
func (n *Negotiation) OnCheck(st *models.State, check models.CoherenceCheck) (NegotiationState, error) {
	if n.State != Verifying {
		return n.State, fmt.Errorf("%w: verification result in state %s", ErrInvalidTransition, n.State)
	}

	st.RecordCoherence(check)
	if !check.OK {
		n.Rounds++
	}
	switch {
	case check.OK:
		n.State = Coherent
	case st.FailureCount > n.ceiling, n.OverRounds():
		n.State = Escalated
	default:
		n.State = AwaitingDecision
	}
	return n.State, nil
}

// OnResponse records the user's answer to the proposed changes. Accepted
// changes, and counter proposals, override the profile and send it back to
// verification. Accepting resets the failure count, a plain refusal costs one
// failure.
func (n *Negotiation) OnResponse(st *models.State, resp models.UserChangeResponse) (NegotiationState, error) {
	if n.State != AwaitingDecision {
		return n.State, fmt.Errorf("%w: user decision in state %s", ErrInvalidTransition, n.State)
	}

	st.RecordChangeResponse(resp)
	switch {
	case resp.NewProposal != nil:
		st.ApplyChanges(*resp.NewProposal)
		n.State = Verifying
	case resp.Accept:
		if st.CoherenceCheck != nil && st.CoherenceCheck.SuggestedChanges != nil {
			st.ApplyChanges(*st.CoherenceCheck.SuggestedChanges)
		}
		n.State = Verifying
	case st.FailureCount > n.ceiling:
		n.State = Escalated
	}
	return n.State, nil
}
