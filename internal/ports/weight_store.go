package ports

import (
	"context"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// WeightStore keeps the versioned WeightSet history. Only LearningEngine
// publishes; everything else reads the current version as an immutable value.
type WeightStore interface {
	// CurrentWeights returns the highest published version.
	CurrentWeights(ctx context.Context) (domain.WeightSet, error)

	// PublishWeights inserts a whole new version. It must reject versions
	// that do not strictly increase the current one — never a partial update.
	PublishWeights(ctx context.Context, ws domain.WeightSet) error
}
