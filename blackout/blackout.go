// Package blackout suppresses new entries around scheduled high-impact
// economic releases loaded from a calendar CSV.
package blackout

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/evdnx/gofx/logger"
)

// Window is how far before and after an event new entries are blocked.
const Window = 30 * time.Minute

// Event is one calendar row.
type Event struct {
	Time     time.Time
	Currency string
	Impact   string
	Title    string
}

// Calendar holds high-impact events indexed for lookup.
type Calendar struct {
	events []Event
	log    logger.Logger
}

// LoadFile reads the calendar CSV at path. A missing file yields an
// empty calendar so the bot can run without one.
func LoadFile(path string, log logger.Logger) (*Calendar, error) {
	if path == "" {
		return &Calendar{log: log}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("calendar file missing, blackout disabled", logger.String("path", path))
			return &Calendar{log: log}, nil
		}
		return nil, fmt.Errorf("blackout: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, log)
}

// Load parses calendar rows from r. Expected columns:
// time (RFC3339), currency, impact, title. Rows that fail to parse are
// skipped with a warning. Only high-impact rows are retained.
func Load(r io.Reader, log logger.Logger) (*Calendar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	cal := &Calendar{log: log}
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("blackout: read calendar: %w", err)
		}
		if len(rec) < 4 {
			continue
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
				continue
			}
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
		if err != nil {
			log.Warn("calendar row skipped", logger.String("time", rec[0]), logger.Err(err))
			continue
		}
		impact := strings.ToLower(strings.TrimSpace(rec[2]))
		if impact != "high" {
			continue
		}
		cal.events = append(cal.events, Event{
			Time:     ts.UTC(),
			Currency: strings.ToUpper(strings.TrimSpace(rec[1])),
			Impact:   impact,
			Title:    strings.TrimSpace(rec[3]),
		})
	}
	return cal, nil
}

// Len returns the number of loaded high-impact events.
func (c *Calendar) Len() int { return len(c.events) }

// Active returns the event blocking symbol at t, if any. A symbol is
// blocked when t falls within Window of an event whose currency appears
// in the symbol name. Currency ALL blocks every symbol; metals react to
// USD releases.
func (c *Calendar) Active(symbol string, t time.Time) (Event, bool) {
	sym := strings.ToUpper(symbol)
	for _, ev := range c.events {
		if t.Before(ev.Time.Add(-Window)) || t.After(ev.Time.Add(Window)) {
			continue
		}
		if ev.Currency == "ALL" || strings.Contains(sym, ev.Currency) {
			return ev, true
		}
		if strings.HasPrefix(sym, "XAU") && ev.Currency == "USD" {
			return ev, true
		}
	}
	return Event{}, false
}
