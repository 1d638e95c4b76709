package ics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"mmstatus/internal/model"
)

// AccessError means the calendar could not be read at all: unknown id,
// unreachable feed without a cached copy, or an unparsable body.
type AccessError struct {
	CalendarID string
	Err        error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("calendar %q not accessible: %v", e.CalendarID, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Probe answers "which event is running right now" for ICS calendars.
type Probe struct {
	fetcher *Fetcher
	sources map[string]Source
	loc     *time.Location
}

// NewProbe builds a probe over the given sources, keyed by Source.ID.
// Floating ICS times are read in loc.
func NewProbe(fetcher *Fetcher, sources []Source, loc *time.Location) *Probe {
	if loc == nil {
		loc = time.Local
	}
	byID := make(map[string]Source, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
	}
	return &Probe{fetcher: fetcher, sources: byID, loc: loc}
}

// Calendars lists the IDs the probe knows, sorted.
func (p *Probe) Calendars() []string {
	ids := make([]string, 0, len(p.sources))
	for id := range p.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveEventAt returns the timed event of calendarID running at at.
// Expansion looks one year ahead of at; only the predicate window depends
// on that bound.
func (p *Probe) ActiveEventAt(ctx context.Context, calendarID string,
	at time.Time) (fn.Option[model.ActiveEvent], error) {

	none := fn.None[model.ActiveEvent]()

	src, ok := p.sources[calendarID]
	if !ok {
		return none, &AccessError{CalendarID: calendarID, Err: errors.New("unknown calendar")}
	}

	res, err := p.fetcher.FetchOne(ctx, src)
	if err != nil {
		return none, &AccessError{CalendarID: calendarID, Err: err}
	}

	events, err := ParseICS(src, res.Body, p.loc)
	if err != nil {
		return none, &AccessError{CalendarID: calendarID, Err: err}
	}

	expanded, err := ExpandOccurrences(events, ExpandConfig{
		Location:   p.loc,
		RangeStart: at,
		RangeEnd:   at.AddDate(1, 0, 0),
	})
	if err != nil {
		return none, &AccessError{CalendarID: calendarID, Err: err}
	}

	return SelectActive(expanded.Occurrences, at), nil
}

// SelectActive picks the timed occurrence running at at. When several
// overlap, the one that started first wins; ties fall back to the earlier
// end and then the title so the choice is deterministic.
func SelectActive(occs []model.Occurrence, at time.Time) fn.Option[model.ActiveEvent] {
	active := make([]model.Occurrence, 0, len(occs))
	for _, o := range occs {
		if o.ActiveAt(at) {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return fn.None[model.ActiveEvent]()
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.Summary < b.Summary
	})

	first := active[0]
	return fn.Some(model.ActiveEvent{
		Title: first.Summary,
		Start: first.Start,
		End:   first.End,
	})
}
