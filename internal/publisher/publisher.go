// Package publisher fans a dataset version out to several publishers.
package publisher

import (
	"context"
	"errors"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []chart.Publisher

// PublishVersion calls each publisher in order; a failure does not stop the rest.
func (m Multi) PublishVersion(ctx context.Context, dir string, note string) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishVersion(ctx, dir, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
