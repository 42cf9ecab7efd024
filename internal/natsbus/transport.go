package natsbus

import (
	"context"

	"kazoku/internal/models"
)

type restSource interface {
	Snapshot(ctx context.Context) ([]models.Message, error)
	Profile(ctx context.Context, id string) (models.Profile, error)
}

// Transport serves snapshots and profiles from the relay's REST API and the
// live change stream and presence from NATS.
type Transport struct {
	restSource
	*Bus
}

func NewTransport(rest restSource, bus *Bus) *Transport {
	return &Transport{restSource: rest, Bus: bus}
}
