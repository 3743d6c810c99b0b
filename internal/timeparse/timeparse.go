package timeparse

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Absolute layouts accepted before falling back to natural language.
// Layouts without a date component are interpreted as "today at that
// time" in the resolver's timezone.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
}

// Resolver turns free-form time expressions into absolute UTC instants.
//
// Resolution is biased toward the future: "3pm" when it is already past
// 3pm resolves to tomorrow's 3pm. The configured timezone is applied
// once during parsing and then discarded; results are always UTC.
type Resolver struct {
	loc    *time.Location
	parser *when.Parser
}

func NewResolver(timezone string) (*Resolver, error) {
	loc := time.UTC
	if strings.TrimSpace(timezone) != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, err
		}
	}

	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)

	return &Resolver{loc: loc, parser: p}, nil
}

// Resolve parses expr relative to the current instant. The second
// return value is false when the expression could not be understood;
// callers must check it, an unparsable expression is a normal outcome.
func (r *Resolver) Resolve(expr string) (time.Time, bool) {
	return r.ResolveAt(expr, time.Now())
}

// ResolveAt parses expr relative to the given reference instant.
func (r *Resolver) ResolveAt(expr string, ref time.Time) (time.Time, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, false
	}
	ref = ref.In(r.loc)

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, expr, r.loc); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, expr, r.loc); err == nil {
			at := time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), t.Second(), 0, r.loc)
			return futureBias(at, ref).UTC(), true
		}
	}

	res, err := r.parser.Parse(expr, ref)
	if err != nil || res == nil {
		return time.Time{}, false
	}
	return futureBias(res.Time, ref).UTC(), true
}

// futureBias bumps a time-of-day match that already passed to the next
// day. Only results on the reference's own calendar day qualify: an
// expression naming another day ("yesterday at 5pm") resolved to the
// past stays in the past and is rejected downstream.
func futureBias(t, ref time.Time) time.Time {
	if !t.After(ref) && sameDay(t, ref) {
		return t.Add(24 * time.Hour)
	}
	return t
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
