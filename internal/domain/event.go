package domain

import (
	"sort"
	"strings"
	"time"
)

// Event owns a set of ticket classes keyed by name
type Event struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	TicketClasses []TicketClass `json:"ticket_classes"`
	CreatedAt     time.Time     `json:"created_at"`
}

// eventIDReserved holds characters an event id may not carry; ids appear in
// URL paths and storage keys.
const eventIDReserved = ":/ \t\r\n"

// Validate checks the event and its classes. Class names must be unique.
func (e *Event) Validate() error {
	if e.ID == "" || strings.ContainsAny(e.ID, eventIDReserved) || strings.TrimSpace(e.Title) == "" {
		return ErrInvalidEvent
	}
	if len(e.TicketClasses) == 0 {
		return ErrInvalidEvent
	}
	seen := make(map[string]struct{}, len(e.TicketClasses))
	for i := range e.TicketClasses {
		tc := &e.TicketClasses[i]
		if err := tc.Validate(); err != nil {
			return err
		}
		if _, dup := seen[tc.Name]; dup {
			return ErrInvalidEvent
		}
		seen[tc.Name] = struct{}{}
	}
	return nil
}

// SortClasses orders ticket classes by name
func (e *Event) SortClasses() {
	sort.Slice(e.TicketClasses, func(i, j int) bool {
		return e.TicketClasses[i].Name < e.TicketClasses[j].Name
	})
}

// TicketClass returns the named class or ErrUnknownTicketClass
func (e *Event) TicketClass(name string) (*TicketClass, error) {
	for i := range e.TicketClasses {
		if e.TicketClasses[i].Name == name {
			return &e.TicketClasses[i], nil
		}
	}
	return nil, ErrUnknownTicketClass
}

// TryReserve resolves the class and delegates to its ledger rules
func (e *Event) TryReserve(className string, quantity, held int, now time.Time) (*Grant, error) {
	tc, err := e.TicketClass(className)
	if err != nil {
		return nil, err
	}
	grant, err := tc.TryReserve(quantity, held, now)
	if err != nil {
		return nil, err
	}
	grant.EventID = e.ID
	return grant, nil
}

// Clone returns a deep copy so callers can read without sharing ledger state
func (e *Event) Clone() *Event {
	out := *e
	out.TicketClasses = make([]TicketClass, len(e.TicketClasses))
	for i, tc := range e.TicketClasses {
		if tc.SalesStart != nil {
			t := *tc.SalesStart
			tc.SalesStart = &t
		}
		if tc.SalesEnd != nil {
			t := *tc.SalesEnd
			tc.SalesEnd = &t
		}
		out.TicketClasses[i] = tc
	}
	return &out
}
