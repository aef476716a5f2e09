package query

// Kind labels the two query shapes.
type Kind string

const (
	KindPoint Kind = "point"
	KindArea  Kind = "area"
)

// Metrics exposes dispatcher observability hooks.
type Metrics interface {
	QueryStarted(kind Kind)
	// QueryFinished reports the number of tiles queried and the outcome.
	QueryFinished(kind Kind, tiles int, err error)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) QueryStarted(Kind)              {}
func (NoopMetrics) QueryFinished(Kind, int, error) {}

var _ Metrics = NoopMetrics{}
