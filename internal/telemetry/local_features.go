package telemetry

import (
	"context"

	"github.com/petasbytes/market-agent/internal/metrics"
)

// FeaturesVersion identifies the shape of the "user" object in local_features events.
const FeaturesVersion = "2"

// EmitLocalFeatures records size features of the user's query for the
// current turn. It only fires in calibration mode with observation on.
func EmitLocalFeatures(ctx context.Context, user string) {
	if !CalibrationModeEnabled() || !ObserveEnabled() {
		return
	}
	f := metrics.CountFeatures(user)
	Emit("local_features", Tag(ctx, map[string]any{
		"features_version": FeaturesVersion,
		"user": map[string]any{
			"bytes":   f.Bytes,
			"runes":   f.Runes,
			"words":   f.Words,
			"lines":   f.Lines,
			"numbers": f.Numbers,
			"urls":    f.URLs,
		},
	}))
}
