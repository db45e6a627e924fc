// Package templates renders the canned messages parties send to narrate an
// exchange.
package templates

import (
	"regexp"
	"sort"

	"bookswap/pkg/apperr"
)

// Key names a lifecycle template.
type Key string

const (
	ExchangeRequest   Key = "exchange_request"
	ExchangeAccepted  Key = "exchange_accepted"
	ExchangeRejected  Key = "exchange_rejected"
	MeetingArranged   Key = "meeting_arranged"
	ExchangeCompleted Key = "exchange_completed"
)

// Data holds placeholder values: book_title, location, date and time.
type Data map[string]string

var bodies = map[Key]string{
	ExchangeRequest:   `Hi! I'm interested in borrowing your book "{{book_title}}". Would you like to arrange an exchange?`,
	ExchangeAccepted:  `Great! I've accepted your request to exchange "{{book_title}}". Let's arrange a meeting time and place.`,
	ExchangeRejected:  `Thank you for your interest in "{{book_title}}", but I'm not able to exchange it at this time.`,
	MeetingArranged:   `I've suggested a meeting at {{location}} on {{date}} at {{time}}. Please let me know if this works for you!`,
	ExchangeCompleted: `Thanks for the exchange! I hope you enjoy reading "{{book_title}}". Please don't forget to leave a review.`,
}

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

func (k Key) Valid() bool {
	_, ok := bodies[k]
	return ok
}

// Keys lists the known templates in name order.
func Keys() []Key {
	keys := make([]Key, 0, len(bodies))
	for k := range bodies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Placeholders returns the names a template expects, in order of appearance.
func Placeholders(key Key) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(bodies[key], -1) {
		names = append(names, m[1])
	}
	return names
}

// Render substitutes data into the template named by key. Placeholders
// without a value are left as written. Values are inserted verbatim and
// never re-expanded.
func Render(key Key, data Data) (string, error) {
	body, ok := bodies[key]
	if !ok {
		return "", apperr.Newf(apperr.Validation, "Unknown message template %q.", key)
	}
	return placeholder.ReplaceAllStringFunc(body, func(token string) string {
		name := token[2 : len(token)-2]
		if v, ok := data[name]; ok {
			return v
		}
		return token
	}), nil
}
