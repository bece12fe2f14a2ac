package app

import "fmt"

// StatusCode classifies advisory outcomes. These are not errors: the
// operation ran to a decision, and the decision is reported to the caller.
type StatusCode string

const (
	StatusOK StatusCode = "ok"
	// StatusCapacityExceeded asks the caller to wait for a free stage slot.
	StatusCapacityExceeded StatusCode = "capacity_exceeded"
	// StatusAlreadyInState guards no-op transitions.
	StatusAlreadyInState StatusCode = "already_in_state"
	// StatusConflictingMerge rejects merges into already-linked rooms.
	StatusConflictingMerge StatusCode = "conflicting_merge"
	// StatusDeclined reports an unanswered or refused merge invite.
	StatusDeclined StatusCode = "declined"
	// StatusRejected reports any other refused request.
	StatusRejected StatusCode = "rejected"
)

// Status is the structured outcome of a coordinator operation.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message"`
}

func ok(msg string) Status { return Status{Code: StatusOK, Message: msg} }

func alreadyInState(msg string) Status { return Status{Code: StatusAlreadyInState, Message: msg} }

func conflict(msg string) Status { return Status{Code: StatusConflictingMerge, Message: msg} }

func declined(msg string) Status { return Status{Code: StatusDeclined, Message: msg} }

func rejected(msg string) Status { return Status{Code: StatusRejected, Message: msg} }

func capacityExceeded(capacity int) Status {
	return Status{
		Code:    StatusCapacityExceeded,
		Message: fmt.Sprintf("%d on stage, wait for availability", capacity),
	}
}
