package pyramid

// EvictReason explains why a tile left the pyramid.
type EvictReason int

const (
	// EvictCapacity: the non-retained surplus exceeded CacheSize.
	EvictCapacity EvictReason = iota
	// EvictAbort: an in-flight load was no longer needed.
	EvictAbort
	// EvictClear: the pyramid was cleared.
	EvictClear
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictAbort:
		return "abort"
	case EvictClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Metrics exposes pyramid observability hooks.
// A NoopMetrics implementation is used by default.
type Metrics interface {
	Hit()
	Miss()
	// LoadStarted is reported for every load callback issued.
	LoadStarted()
	// LoadFinished is reported when a completion is applied.
	LoadFinished(err error)
	// StaleCompletion is reported when a completion is discarded.
	StaleCompletion()
	Evict(reason EvictReason)
	Size(tiles, retained int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Hit()               {}
func (NoopMetrics) Miss()              {}
func (NoopMetrics) LoadStarted()       {}
func (NoopMetrics) LoadFinished(error) {}
func (NoopMetrics) StaleCompletion()   {}
func (NoopMetrics) Evict(EvictReason)  {}
func (NoopMetrics) Size(int, int)      {}

var _ Metrics = NoopMetrics{}
