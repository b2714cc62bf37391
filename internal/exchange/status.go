package exchange

import "slices"

// Status is a lifecycle state of a posting or an application. Which values are
// valid depends on the entity and its type; see the transition tables.
type Status string

const (
	StatusSubmitted              Status = "submitted"
	StatusRequestSubmitted       Status = "request_submitted"
	StatusWaitingForRequest      Status = "waiting_for_request"
	StatusWaitingForConfirmation Status = "waiting_for_confirmation"
	StatusConfirmed              Status = "confirmed"
	StatusUnderRepair            Status = "under_repair"
	StatusLent                   Status = "lent"
	StatusBorrowed               Status = "borrowed"
	StatusOverdue                Status = "overdue"
	StatusExtended               Status = "extended"
	StatusReturned               Status = "returned"
	StatusCompleted              Status = "completed"
	StatusFailed                 Status = "failed"
	StatusCancelled              Status = "cancelled"
)

type transitions map[Status][]Status

var postingTransitions = map[Type]transitions{
	TypeDonation: {
		StatusSubmitted: {StatusConfirmed, StatusFailed},
		StatusConfirmed: {StatusCompleted, StatusFailed},
	},
	TypeBarter: {
		StatusWaitingForRequest:      {StatusWaitingForConfirmation},
		StatusWaitingForConfirmation: {StatusConfirmed},
		StatusConfirmed:              {StatusCompleted},
	},
	TypeBorrow: {
		StatusWaitingForRequest:      {StatusWaitingForConfirmation},
		StatusWaitingForConfirmation: {StatusConfirmed},
		StatusConfirmed:              {StatusLent},
		StatusLent:                   {StatusOverdue, StatusExtended, StatusReturned},
		StatusOverdue:                {StatusExtended, StatusReturned},
		StatusExtended:               {StatusOverdue, StatusExtended, StatusReturned},
		StatusReturned:               {StatusCompleted},
	},
	TypeRepair: {
		StatusRequestSubmitted: {StatusConfirmed, StatusFailed},
		StatusConfirmed:        {StatusUnderRepair, StatusFailed},
		StatusUnderRepair:      {StatusCompleted},
	},
	TypeRecycle: {
		StatusSubmitted: {StatusConfirmed, StatusFailed},
		StatusConfirmed: {StatusCompleted, StatusFailed},
	},
}

var applicationTransitions = map[Type]transitions{
	TypeBarter: {
		StatusRequestSubmitted: {StatusConfirmed, StatusFailed},
		StatusConfirmed:        {StatusCompleted},
	},
	TypeBorrow: {
		StatusRequestSubmitted: {StatusConfirmed, StatusCancelled},
		StatusConfirmed:        {StatusBorrowed},
		StatusBorrowed:         {StatusExtended, StatusOverdue, StatusReturned},
		StatusExtended:         {StatusExtended, StatusOverdue, StatusReturned},
		StatusOverdue:          {StatusExtended, StatusReturned},
		StatusReturned:         {StatusCompleted},
	},
}

var initialPostingStatus = map[Type]Status{
	TypeDonation: StatusSubmitted,
	TypeBarter:   StatusWaitingForRequest,
	TypeBorrow:   StatusWaitingForRequest,
	TypeRepair:   StatusRequestSubmitted,
	TypeRecycle:  StatusSubmitted,
}

// InitialPostingStatus is the first history entry written for a new posting.
func InitialPostingStatus(t Type) Status {
	return initialPostingStatus[t]
}

// InitialApplicationStatus is the first history entry of every application.
func InitialApplicationStatus() Status {
	return StatusRequestSubmitted
}

func CanTransitionPosting(t Type, from, to Status) bool {
	return slices.Contains(postingTransitions[t][from], to)
}

func CanTransitionApplication(t Type, from, to Status) bool {
	return slices.Contains(applicationTransitions[t][from], to)
}

// IsTerminalPosting reports whether no edge leaves s.
func IsTerminalPosting(t Type, s Status) bool {
	return len(postingTransitions[t][s]) == 0
}

func IsTerminalApplication(t Type, s Status) bool {
	return len(applicationTransitions[t][s]) == 0
}

// DeclinedStatus is where a rejected or outbid application ends up.
func DeclinedStatus(t Type) Status {
	if t == TypeBorrow {
		return StatusCancelled
	}

	return StatusFailed
}

// ActiveBorrowStatuses are the states of an item that is out on loan.
var (
	ActiveBorrowPostingStatuses     = []Status{StatusLent, StatusOverdue, StatusExtended}
	ActiveBorrowApplicationStatuses = []Status{StatusBorrowed, StatusOverdue, StatusExtended}
)

// DetailKey builds the message key attached to a ledger entry, for example
// "barter_application.request.confirmed_detail".
func DetailKey(subject string, s Status) string {
	return subject + ".request." + string(s) + "_detail"
}

// AutoDetailKey marks entries written by the system rather than a user.
func AutoDetailKey(subject string, s Status) string {
	return subject + ".request." + string(s) + "_auto_detail"
}
