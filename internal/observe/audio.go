package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// AudioObserver returns an [audio.Observer] that records capture events for
// the named device on m.
func (m *Metrics) AudioObserver(device string) audio.Observer {
	return &audioObserver{m: m, attrs: metric.WithAttributes(attribute.String("device", device))}
}

type audioObserver struct {
	m     *Metrics
	attrs metric.MeasurementOption
}

func (o *audioObserver) ChunkCaptured(audio.Chunk) {
	o.m.ChunksCaptured.Add(context.Background(), 1, o.attrs)
}

func (o *audioObserver) ChunksDropped(n int) {
	o.m.ChunksDropped.Add(context.Background(), int64(n), o.attrs)
}

func (o *audioObserver) Overrun() {
	o.m.DeviceOverruns.Add(context.Background(), 1, o.attrs)
}
