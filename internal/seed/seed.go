// Package seed loads the default resource list and applies it to a catalog.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// Entry is one seeded resource.
type Entry struct {
	URL             string `yaml:"url" validate:"required,http_url"`
	IntervalSeconds int64  `yaml:"interval_secs" validate:"omitempty,gte=1,lte=31536000"`
	Style           string `yaml:"style" validate:"omitempty,oneof=jittered backoff fixed random exponential none"`
}

type file struct {
	Sites []Entry `yaml:"sites" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a seed file.
func Load(path string) ([]Entry, error) {
	// #nosec G304 -- the seed path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return Parse(f)
}

// Parse decodes seed YAML from r.
func Parse(r io.Reader) ([]Entry, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return doc.Sites, nil
}

// Resources converts entries to resources, filling defaults.
func Resources(entries []Entry, defaultInterval watch.Interval) []watch.Resource {
	out := make([]watch.Resource, 0, len(entries))
	for _, e := range entries {
		interval := watch.Interval(e.IntervalSeconds)
		if interval <= 0 {
			interval = defaultInterval
		}
		style := e.Style
		if style == "" {
			style = string(watch.PolicyJittered)
		}
		out = append(out, watch.Resource{
			URL:      e.URL,
			Interval: interval,
			Policy:   watch.ParsePolicy(style),
		})
	}
	return out
}

// Apply adds every resource not already present and returns how many were
// added. Duplicate URLs are skipped.
func Apply(ctx context.Context, catalog watch.Catalog, resources []watch.Resource, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	added := 0
	for _, res := range resources {
		if _, err := catalog.AddResource(ctx, res); err != nil {
			if errors.Is(err, watch.ErrDuplicate) {
				logger.Debug("seed already present", zap.String("url", res.URL))
				continue
			}
			return added, fmt.Errorf("seed %s: %w", res.URL, err)
		}
		added++
	}
	logger.Info("seeded resources", zap.Int("added", added), zap.Int("total", len(resources)))
	return added, nil
}

// ApplyIfEmpty seeds only when the catalog holds no resources.
func ApplyIfEmpty(ctx context.Context, catalog watch.Catalog, resources []watch.Resource, logger *zap.Logger) (int, error) {
	existing, err := catalog.ListResources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list resources: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	return Apply(ctx, catalog, resources, logger)
}
