package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "mmstatus/internal/log"
	"mmstatus/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the zone occurrences are converted to. If nil,
	// time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive window. An occurrence is
	// kept when any part of it overlaps the window, so an event that
	// started before RangeStart and is still running is included.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway RRULEs. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences.
type ExpandResult struct {
	Occurrences []model.Occurrence
}

// ExpandOccurrences turns parsed events into concrete occurrences inside
// the configured window. It handles single events, RRULE recurrence,
// EXDATE exclusions and RECURRENCE-ID overrides. Cancelled events and
// cancelled overrides produce nothing.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	for uid, baseEvents := range baseByUID {
		truncated := false
		for _, ev := range baseEvents {
			if ev.Cancelled {
				continue
			}
			var occ []model.Occurrence
			if ev.RawRRule == "" {
				occ = expandSingleEvent(ev, overridesByUID[uid], cfg)
			} else {
				var hitCap bool
				occ, hitCap = expandRecurringEvent(ev, overridesByUID[uid], cfg)
				truncated = truncated || hitCap
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// Overrides stand on their own: a moved instance may land far from
	// the slot it replaces.
	for _, overrides := range overridesByUID {
		for _, o := range overrides {
			if o.Cancelled || !timeRangesOverlap(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
				continue
			}
			result.Occurrences = append(result.Occurrences, makeOccurrence(o, o.Start, o.End, cfg.Location))
		}
	}

	return result, nil
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if isOverridden(overrides, ev.Start) {
		return nil
	}
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.Location)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if ev.AllDay && dur <= 0 {
		dur = 24 * time.Hour
	}

	// Look back by one duration so an instance that started before the
	// window but is still running is found.
	loc := ev.Start.Location()
	rangeStart := cfg.RangeStart.Add(-dur).In(loc)
	rangeEnd := cfg.RangeEnd.In(loc)

	starts := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, occStart := range starts {
		occEnd := occStart.Add(dur)
		if isOverridden(overrides, occStart) {
			continue
		}
		if !timeRangesOverlap(occStart, occEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(ev, occStart, occEnd, cfg.Location))
	}

	return out, hitCap
}

// isOverridden reports whether some RECURRENCE-ID replaces the instance
// starting at instanceStart.
func isOverridden(overrides []ParsedEvent, instanceStart time.Time) bool {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(instanceStart) {
			return true
		}
	}
	return false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	startLocal := start.In(loc)
	return model.Occurrence{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		AllDay:   ev.AllDay,
		Start:    startLocal,
		End:      end.In(loc),
	}
}

// timeRangesOverlap treats both ranges as closed intervals.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
