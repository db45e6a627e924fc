package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"bookswap/pkg/apperr"
)

func TestRenderCompleted(t *testing.T) {
	got, err := Render(ExchangeCompleted, Data{"book_title": "Dune"})
	require.NoError(t, err)
	assert.Equal(t, `Thanks for the exchange! I hope you enjoy reading "Dune". Please don't forget to leave a review.`, got)
	assert.NotContains(t, got, "{{")
}

func TestRenderMeetingArranged(t *testing.T) {
	got, err := Render(MeetingArranged, Data{"location": "Central Park", "date": "May 3", "time": "14:00"})
	require.NoError(t, err)
	assert.Equal(t, "I've suggested a meeting at Central Park on May 3 at 14:00. Please let me know if this works for you!", got)
}

func TestRenderLeavesMissingPlaceholders(t *testing.T) {
	got, err := Render(MeetingArranged, Data{"location": "the cafe"})
	require.NoError(t, err)
	assert.Contains(t, got, "the cafe")
	assert.Contains(t, got, "{{date}}")
	assert.Contains(t, got, "{{time}}")

	got, err = Render(ExchangeRequest, nil)
	require.NoError(t, err)
	assert.Contains(t, got, `"{{book_title}}"`)
}

func TestRenderUnknownKey(t *testing.T) {
	_, err := Render("exchange_exploded", Data{})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.False(t, Key("exchange_exploded").Valid())
}

func TestKeysAndPlaceholders(t *testing.T) {
	assert.Equal(t, []Key{ExchangeAccepted, ExchangeCompleted, ExchangeRejected, ExchangeRequest, MeetingArranged}, Keys())
	assert.Equal(t, []string{"location", "date", "time"}, Placeholders(MeetingArranged))
	assert.Equal(t, []string{"book_title"}, Placeholders(ExchangeRejected))
}

func TestRenderProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SampledFrom(Keys()).Draw(t, "key")
		value := rapid.StringMatching(`[A-Za-z0-9 ,.'"]{0,40}`).Draw(t, "value")

		data := Data{}
		for _, name := range Placeholders(key) {
			data[name] = value
		}
		got, err := Render(key, data)
		if err != nil {
			t.Fatalf("render %s: %v", key, err)
		}

		if strings.Contains(got, "{{") {
			t.Fatalf("unexpected placeholder left in %q", got)
		}
		if !strings.Contains(got, value) {
			t.Fatalf("%q does not contain %q", got, value)
		}
	})
}
