// Package delivery hands issued reset codes to the channel that gets them to
// the account holder. The HTTP layer never returns a code in a response body;
// it passes the ResetDelivery to a Sink instead.
package delivery

import (
	"context"
	"errors"

	"account-auth/backend/internal/account/domain"
)

// Sink delivers a reset code out of band.
type Sink interface {
	// Deliver hands d to the delivery channel. A returned error means the
	// account holder will not receive the code.
	Deliver(ctx context.Context, d domain.ResetDelivery) error
	// Close releases resources. Safe to call more than once.
	Close() error
}

// Tee fans a delivery out to every sink in order and joins their errors.
type Tee []Sink

// Deliver calls Deliver on each sink, even after one fails.
func (t Tee) Deliver(ctx context.Context, d domain.ResetDelivery) error {
	var errs []error
	for _, s := range t {
		if err := s.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes each sink.
func (t Tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
