package domain

import "sort"

// stageOrder is the declared order of the sales pipeline. Rejected sits
// outside the forward sequence.
var stageOrder = map[OpportunityStage]int{
	StageNewOpportunity:   1,
	StageMeetingScheduled: 2,
	StageMeetingDone:      3,
	StageProposalSent:     4,
	StagePendingApproval:  5,
	StageApproved:         6,
	StageRejected:         99,
}

var stageProbabilities = map[OpportunityStage]int{
	StageNewOpportunity:   20,
	StageMeetingScheduled: 35,
	StageMeetingDone:      50,
	StageProposalSent:     65,
	StagePendingApproval:  80,
	StageApproved:         100,
	StageRejected:         0,
}

// IsValid checks if the stage belongs to the pipeline
func (s OpportunityStage) IsValid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Order returns the declared position of the stage
func (s OpportunityStage) Order() int {
	return stageOrder[s]
}

// IsTerminal reports whether no further transition may leave the stage
func (s OpportunityStage) IsTerminal() bool {
	return s == StageApproved || s == StageRejected
}

// Probability returns the win probability associated with the stage
func (s OpportunityStage) Probability() int {
	return stageProbabilities[s]
}

// Stages returns the pipeline stages in declared order
func Stages() []OpportunityStage {
	stages := make([]OpportunityStage, 0, len(stageOrder))
	for s := range stageOrder {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Order() < stages[j].Order() })
	return stages
}

// SuggestedNextStages lists stages ordered after current and within two
// positions of it. It is a presentation hint; the engine accepts any
// non-terminal to non-terminal transition whose gate succeeds.
func SuggestedNextStages(current OpportunityStage) []OpportunityStage {
	if current.IsTerminal() || !current.IsValid() {
		return []OpportunityStage{}
	}
	suggested := []OpportunityStage{}
	for _, s := range Stages() {
		if s.Order() > current.Order() && s.Order() <= current.Order()+2 {
			suggested = append(suggested, s)
		}
	}
	return suggested
}

// GateKind names the data capture required before a stage is committed
type GateKind string

const (
	GateMeeting   GateKind = "meeting"
	GateReport    GateKind = "meeting_report"
	GateQuote     GateKind = "quote"
	GateRejection GateKind = "rejection_reason"
	GateConfirm   GateKind = "confirm"
	GateNote      GateKind = "stage_note"
)

// RequiredGate returns the gate action for a transition into target
func RequiredGate(target OpportunityStage) GateKind {
	switch target {
	case StageMeetingScheduled:
		return GateMeeting
	case StageMeetingDone:
		return GateReport
	case StageProposalSent:
		return GateQuote
	case StageRejected:
		return GateRejection
	case StageApproved:
		return GateConfirm
	default:
		return GateNote
	}
}
