package chaos

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/exchange"
	"bookswap/internal/store/storetest"
)

func newTarget(t *testing.T) *Target {
	t.Helper()
	return NewTarget(storetest.New(t), exchange.SyncOptions{MaxTries: 2, Interval: time.Millisecond})
}

func constant(name string, v float64, th Threshold) Metric {
	return Metric{Name: name, Query: func(context.Context) (float64, error) { return v, nil }, Threshold: th}
}

func TestThreshold(t *testing.T) {
	cases := []struct {
		op   string
		v    float64
		want bool
	}{
		{">", 2, true}, {">", 1, false},
		{"<", 0, true}, {"<", 1, false},
		{">=", 1, true}, {"<=", 1, true},
		{"==", 1, true}, {"==", 2, false},
		{"!=", 1, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Threshold{Operator: tc.op, Value: 1}.Holds(tc.v), "%v %s 1", tc.v, tc.op)
	}
}

func TestRunAbortsOnUnhealthySteadyState(t *testing.T) {
	e := NewEngine(5*time.Millisecond, 0)
	injected := false

	result, err := e.Run(context.Background(), Experiment{
		Name:        "unhealthy",
		SteadyState: []Metric{constant("errors", 3, Threshold{Operator: "==", Value: 0})},
		Method:      []Action{{Execute: func(context.Context) error { injected = true; return nil }}},
		Duration:    10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrSteadyState)
	assert.False(t, result.SteadyStateValid)
	assert.False(t, injected, "no fault is injected into an unhealthy system")
	assert.Empty(t, e.Results())
}

func TestRunRecordsActionErrorsAndFailedAssertions(t *testing.T) {
	e := NewEngine(5*time.Millisecond, 0)

	result, err := e.Run(context.Background(), Experiment{
		Name:        "broken-method",
		SteadyState: []Metric{constant("ok", 1, Threshold{Operator: "==", Value: 1})},
		Method: []Action{{Target: "db", Execute: func(context.Context) error {
			return errors.New("boom")
		}}},
		Validation: []Assertion{
			{Metric: "ok", Condition: func(v float64) bool { return v == 1 }, Message: "ok stays 1"},
			{Metric: "missing", Condition: func(float64) bool { return true }, Message: "missing metric"},
		},
		Duration: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"missing metric"}, result.Failed)
	require.NotEmpty(t, result.ErrorEvents)
	assert.Equal(t, "db", result.ErrorEvents[0].Component)
	assert.Len(t, e.Results(), 1)
}

func TestConcurrentCreateRaceExperiment(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(10*time.Millisecond, 0)

	result, err := e.Run(context.Background(), target.ConcurrentCreateRace(8, 30*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, result.ErrorEvents)
	assert.True(t, result.HypothesisHeld, "failed: %v", result.Failed)
}

func TestSynchronizerWriteFailureExperiment(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(10*time.Millisecond, 0)

	result, err := e.Run(context.Background(), target.SynchronizerWriteFailure(50*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, result.ErrorEvents)
	assert.NotEmpty(t, result.Violations, "the drift is observed while the fault is active")
	assert.NotNil(t, result.MTTR)
	assert.True(t, result.HypothesisHeld, "failed: %v", result.Failed)

	n, err := target.Reconciler.Violations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStalledSubscriberBurstExperiment(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(10*time.Millisecond, 0)

	result, err := e.Run(context.Background(), target.StalledSubscriberBurst(50, 2*time.Second, 20*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, result.ErrorEvents)
	assert.True(t, result.HypothesisHeld, "failed: %v", result.Failed)
	assert.Zero(t, target.Hub.Len())
}

func TestGameDayReport(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(10*time.Millisecond, 0)
	target.Register(e, 20*time.Millisecond)
	require.Len(t, e.Experiments(), 3)

	var out bytes.Buffer
	err := e.ExecuteGameDay(context.Background(), GameDay{
		Name:      "test",
		Date:      time.Now(),
		Scenarios: e.Experiments(),
	}, &out)
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "[3/3] stalled-subscriber-burst")
	assert.NotContains(t, out.String(), "hypothesis violated")
}
