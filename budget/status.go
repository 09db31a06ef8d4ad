package budget

// =============================================================================
// EXPENDITURE STATE MACHINE
// =============================================================================
//
//   pending --verify--> verified --approve--> approved
//      |                    |
//      +------reject--------+-----reject----> rejected
//
// approved and rejected are terminal. The status is never stored on its own
// authority: it is always the fold of the approval steps.

var transitions = map[ExpenditureStatus]map[Decision]ExpenditureStatus{
	StatusPending: {
		DecisionVerify: StatusVerified,
		DecisionReject: StatusRejected,
	},
	StatusVerified: {
		DecisionApprove: StatusApproved,
		DecisionReject:  StatusRejected,
	},
}

// NextStatus returns the status reached by applying decision, and false if
// the status does not accept it.
func NextStatus(from ExpenditureStatus, decision Decision) (ExpenditureStatus, bool) {
	next, ok := transitions[from][decision]
	return next, ok
}

func (s ExpenditureStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s ExpenditureStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// DeriveStatus folds an approval history into the status it implies.
// An empty history is pending.
func DeriveStatus(steps []ApprovalStep) (ExpenditureStatus, error) {
	status := StatusPending
	for _, step := range steps {
		next, ok := NextStatus(status, step.Decision)
		if !ok {
			return "", &TransitionError{From: status, Action: string(step.Decision)}
		}
		status = next
	}
	return status, nil
}
