package exchange

import (
	"bookswap/internal/catalog"
	"bookswap/pkg/apperr"
)

type actor int

const (
	byOwner actor = iota
	byRequester
	byEither
)

type rule struct {
	from  []Status
	by    actor
	event string
}

// rules is keyed by target status. Pending and InProgress have no entry, so
// nothing can move an exchange into them.
var rules = map[Status]rule{
	Accepted:  {from: []Status{Pending}, by: byOwner, event: "ExchangeAccepted"},
	Rejected:  {from: []Status{Pending}, by: byOwner, event: "ExchangeRejected"},
	Cancelled: {from: []Status{Pending}, by: byRequester, event: "ExchangeCancelled"},
	Completed: {from: []Status{Pending, Accepted, InProgress}, by: byEither, event: "ExchangeCompleted"},
}

const (
	eventRequested = "ExchangeRequested"
	eventUpdated   = "ExchangeUpdated"
)

// CheckTransition decides whether role may move an exchange from one status
// to another. Role failures are reported before status failures.
func CheckTransition(from, to Status, role Role) error {
	if role == RoleNone {
		return apperr.New(apperr.Forbidden, "You are not part of this exchange.")
	}

	r, ok := rules[to]
	if !ok {
		return apperr.Newf(apperr.InvalidTransition, "An exchange cannot be moved to %s.", to)
	}

	switch {
	case r.by == byOwner && role != RoleOwner:
		return apperr.Newf(apperr.Forbidden, "Only the owner can mark an exchange %s.", to)
	case r.by == byRequester && role != RoleRequester:
		return apperr.Newf(apperr.Forbidden, "Only the requester can mark an exchange %s.", to)
	}

	for _, s := range r.from {
		if s == from {
			return nil
		}
	}
	return apperr.Newf(apperr.InvalidTransition, "A %s exchange cannot be marked %s.", from, to)
}

// AvailabilityFor maps an exchange status to the availability its book must
// have: open exchanges hold the book, terminal ones release it.
func AvailabilityFor(s Status) catalog.Availability {
	if s.Terminal() {
		return catalog.Available
	}
	return catalog.Exchanging
}

func eventTypeFor(to Status) string {
	if r, ok := rules[to]; ok {
		return r.event
	}
	return eventUpdated
}
