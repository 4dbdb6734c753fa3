package model

import "time"

// Event is the normalized representation of a single calendar event after
// anonymization and date filtering. It carries everything the merge engine
// re-emits; anything stripped during normalization is gone for good.
type Event struct {
	// SourceURL is the feed the event came from (fragment removed).
	SourceURL string
	// UID is the iCalendar UID. Unique within one feed, but two feeds may
	// legitimately carry the same UID; both entries are kept.
	UID string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are the event bounds. Start never exceeds End.
	Start time.Time
	End   time.Time

	// RRule is the raw RRULE value for recurring events, carried into the
	// merged output verbatim. Empty for one-off events.
	RRule string
	// ExDates are raw EXDATE property values, re-emitted verbatim.
	ExDates []string
	// RecurrenceID is the raw RECURRENCE-ID value for an overridden
	// instance of a recurring event, re-emitted verbatim. Without it a
	// moved instance would double-book consumers: the rule still
	// generates the original slot and the override shows up as a second
	// standalone event under the same UID.
	RecurrenceID string
}
