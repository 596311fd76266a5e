// Package integrations defines adapters to the route-geometry importers that
// supply leg waypoints.
package integrations

import (
    "context"
    "io"
    "mime"
    "strings"

    "commsplan/internal/model"
)

// RouteSource decodes an external route export into ordered waypoints.
type RouteSource interface {
    Name() string
    ContentTypes() []string
    Waypoints(ctx context.Context, r io.Reader) ([]model.Waypoint, error)
}

// Registry selects a RouteSource by request content type.
type Registry struct {
    sources []RouteSource
}

func NewRegistry(sources ...RouteSource) *Registry {
    return &Registry{sources: sources}
}

// ForContentType returns the source accepting contentType, ignoring parameters
// such as charset.
func (r *Registry) ForContentType(contentType string) (RouteSource, bool) {
    mt, _, err := mime.ParseMediaType(contentType)
    if err != nil {
        mt = strings.TrimSpace(strings.ToLower(contentType))
    }
    for _, s := range r.sources {
        for _, ct := range s.ContentTypes() {
            if ct == mt {
                return s, true
            }
        }
    }
    return nil, false
}
