package builtin

import (
	"context"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/routing"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// routeWave turns identity and content signals into a routing decision.
type routeWave struct {
	wave.Base
	params routing.Params
}

func newRoute(m manifest.Manifest) (wave.Wave, error) {
	return &routeWave{Base: wave.Base{Manifest: m}, params: routing.ParamsFrom(m.Defaults)}, nil
}

func (w *routeWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	route := routing.Decide(routing.FromSnapshot(snap), w.params)
	return routing.Signals(route, w.params, w.Name()), nil
}
