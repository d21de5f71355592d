// Package api provides the interface for price feed providers.
package api

import (
	"context"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

// Provider defines the interface for price feed providers.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FetchIntervals fetches the currently published price intervals.
	FetchIntervals(ctx context.Context) ([]models.PriceInterval, error)
}
