package service

import (
	"context"

	"github.com/shiva/unipool/internal/model"
)

// Notifier delivers fire-and-forget notifications to a user. Implementations
// may fail; the services log the failure and carry on.
type Notifier interface {
	Notify(ctx context.Context, userID string, event model.EventType, payload map[string]string) error
}

// Publisher fans committed lifecycle events out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// DirectionsProvider resolves display-only route text between two points.
type DirectionsProvider interface {
	Directions(ctx context.Context, origin, destination model.Location) (*model.RouteSummary, error)
}

// DriverLocator stores and searches driver positions.
type DriverLocator interface {
	UpdateLocation(ctx context.Context, loc model.DriverLocation) error
	Nearby(ctx context.Context, center model.Location, radiusKm float64, limit int) ([]model.DriverLocation, error)
}

// ─── No-op collaborators ────────────────────────────────────

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, model.EventType, map[string]string) error {
	return nil
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.Event) error { return nil }

// MultiPublisher publishes to every publisher in order and returns the
// first error after trying all of them.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event model.Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
