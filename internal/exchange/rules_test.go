package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"bookswap/internal/catalog"
	"bookswap/pkg/apperr"
)

var allStatuses = []Status{Pending, Accepted, InProgress, Completed, Rejected, Cancelled}

func TestCheckTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		role     Role
		want     apperr.Kind
	}{
		{Pending, Accepted, RoleOwner, ""},
		{Pending, Accepted, RoleRequester, apperr.Forbidden},
		{Pending, Rejected, RoleOwner, ""},
		{Pending, Rejected, RoleRequester, apperr.Forbidden},
		{Pending, Cancelled, RoleRequester, ""},
		{Pending, Cancelled, RoleOwner, apperr.Forbidden},
		{Pending, Completed, RoleOwner, ""},
		{Pending, Completed, RoleRequester, ""},
		{Accepted, Completed, RoleRequester, ""},
		{InProgress, Completed, RoleOwner, ""},
		{Accepted, Cancelled, RoleRequester, apperr.InvalidTransition},
		{Accepted, Accepted, RoleOwner, apperr.InvalidTransition},
		{Accepted, Rejected, RoleOwner, apperr.InvalidTransition},
		{Completed, Completed, RoleOwner, apperr.InvalidTransition},
		{Rejected, Accepted, RoleOwner, apperr.InvalidTransition},
		{Pending, InProgress, RoleOwner, apperr.InvalidTransition},
		{Accepted, Pending, RoleOwner, apperr.InvalidTransition},
		{Pending, Accepted, RoleNone, apperr.Forbidden},
		{Pending, Completed, RoleNone, apperr.Forbidden},
	}

	for _, tc := range cases {
		err := CheckTransition(tc.from, tc.to, tc.role)
		if tc.want == "" {
			assert.NoError(t, err, "%s -> %s by %s", tc.from, tc.to, tc.role)
			continue
		}
		assert.Equal(t, tc.want, apperr.KindOf(err), "%s -> %s by %s", tc.from, tc.to, tc.role)
	}
}

func TestTerminalStatusesAreFinal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom([]Status{Completed, Rejected, Cancelled}).Draw(t, "from")
		to := rapid.SampledFrom(allStatuses).Draw(t, "to")
		role := rapid.SampledFrom([]Role{RoleOwner, RoleRequester}).Draw(t, "role")

		if err := CheckTransition(from, to, role); err == nil {
			t.Fatalf("%s -> %s allowed for %s", from, to, role)
		}
	})
}

func TestNothingReachesPendingOrInProgress(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStatuses).Draw(t, "from")
		to := rapid.SampledFrom([]Status{Pending, InProgress}).Draw(t, "to")
		role := rapid.SampledFrom([]Role{RoleOwner, RoleRequester}).Draw(t, "role")

		if kind := apperr.KindOf(CheckTransition(from, to, role)); kind != apperr.InvalidTransition {
			t.Fatalf("%s -> %s by %s gave %q", from, to, role, kind)
		}
	})
}

func TestAllowedTransitionsMatchAvailabilityFlip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStatuses).Draw(t, "from")
		to := rapid.SampledFrom(allStatuses).Draw(t, "to")
		role := rapid.SampledFrom([]Role{RoleOwner, RoleRequester}).Draw(t, "role")

		if CheckTransition(from, to, role) != nil {
			return
		}
		if from.Terminal() {
			t.Fatalf("transition out of terminal %s", from)
		}
		if AvailabilityFor(from) != catalog.Exchanging {
			t.Fatalf("open status %s must hold the book", from)
		}
		if to == Accepted && AvailabilityFor(to) != catalog.Exchanging {
			t.Fatalf("accepted must keep the book exchanging")
		}
		if to.Terminal() && AvailabilityFor(to) != catalog.Available {
			t.Fatalf("terminal %s must release the book", to)
		}
	})
}

func TestAvailabilityFor(t *testing.T) {
	assert.Equal(t, catalog.Exchanging, AvailabilityFor(Pending))
	assert.Equal(t, catalog.Exchanging, AvailabilityFor(Accepted))
	assert.Equal(t, catalog.Exchanging, AvailabilityFor(InProgress))
	assert.Equal(t, catalog.Available, AvailabilityFor(Completed))
	assert.Equal(t, catalog.Available, AvailabilityFor(Rejected))
	assert.Equal(t, catalog.Available, AvailabilityFor(Cancelled))
}
