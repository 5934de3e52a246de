package domain

import (
	"strings"
	"time"
)

// TicketClass is a named, priced pool of inventory within an event.
// MaxPerUser and MaxPerOrder are unset when zero.
type TicketClass struct {
	Name              string     `json:"name"`
	Price             float64    `json:"price"`
	Capacity          int        `json:"capacity"`
	QuantityAvailable int        `json:"quantity_available"`
	SalesStart        *time.Time `json:"sales_start,omitempty"`
	SalesEnd          *time.Time `json:"sales_end,omitempty"`
	MaxPerUser        int        `json:"max_per_user,omitempty"`
	MaxPerOrder       int        `json:"max_per_order,omitempty"`
}

// Grant is the outcome of a successful TryReserve
type Grant struct {
	EventID            string
	TicketClassName    string
	Quantity           int
	UnitPrice          float64
	RemainingAvailable int
	BuyerHeld          int
}

// Validate checks the class definition as supplied by an organizer
func (tc *TicketClass) Validate() error {
	if strings.TrimSpace(tc.Name) == "" {
		return ErrInvalidEvent
	}
	if tc.Price < 0 || tc.Capacity < 0 || tc.MaxPerUser < 0 || tc.MaxPerOrder < 0 {
		return ErrInvalidEvent
	}
	if tc.QuantityAvailable < 0 || tc.QuantityAvailable > tc.Capacity {
		return ErrInvalidEvent
	}
	if tc.SalesStart != nil && tc.SalesEnd != nil && tc.SalesEnd.Before(*tc.SalesStart) {
		return ErrInvalidEvent
	}
	return nil
}

// InSalesWindow reports whether now lies within the configured bounds.
// Each bound is inclusive and only applies when set.
func (tc *TicketClass) InSalesWindow(now time.Time) bool {
	if tc.SalesStart != nil && now.Before(*tc.SalesStart) {
		return false
	}
	if tc.SalesEnd != nil && now.After(*tc.SalesEnd) {
		return false
	}
	return true
}

// CheckAdmissible runs the admissibility rules in order without mutating
// the ledger. held is the quantity the buyer already holds in confirmed
// bookings for this class.
func (tc *TicketClass) CheckAdmissible(quantity, held int, now time.Time) error {
	if !tc.InSalesWindow(now) {
		return ErrSalesWindowClosed
	}
	if quantity < 1 || (tc.MaxPerOrder > 0 && quantity > tc.MaxPerOrder) {
		return ErrOrderLimitExceeded
	}
	if tc.MaxPerUser > 0 && held+quantity > tc.MaxPerUser {
		return ErrUserLimitExceeded
	}
	if quantity > tc.QuantityAvailable {
		return ErrInsufficientInventory
	}
	return nil
}

// TryReserve checks admissibility and decrements the available quantity
// in one step. Callers must hold the class's lock (or run inside the
// store's transaction) for the whole call.
func (tc *TicketClass) TryReserve(quantity, held int, now time.Time) (*Grant, error) {
	if err := tc.CheckAdmissible(quantity, held, now); err != nil {
		return nil, err
	}
	tc.QuantityAvailable -= quantity
	return &Grant{
		TicketClassName:    tc.Name,
		Quantity:           quantity,
		UnitPrice:          tc.Price,
		RemainingAvailable: tc.QuantityAvailable,
		BuyerHeld:          held + quantity,
	}, nil
}

// Release returns quantity to the pool, never exceeding capacity.
// It returns the amount actually restored.
func (tc *TicketClass) Release(quantity int) int {
	if quantity <= 0 {
		return 0
	}
	restored := quantity
	if tc.QuantityAvailable+quantity > tc.Capacity {
		restored = tc.Capacity - tc.QuantityAvailable
	}
	tc.QuantityAvailable += restored
	return restored
}

// SoldOut reports whether no inventory remains
func (tc *TicketClass) SoldOut() bool {
	return tc.QuantityAvailable == 0
}
