package metrics

// Provider constructs the instruments a Provider-consuming component records
// against. task.System never calls a concrete backend directly; it takes a
// Provider (via metrics.NewTaskInstruments) so a real backend (OTel,
// Prometheus) can be swapped in without the task package changing. Runners
// record no metrics. Implementations must be safe for concurrent use.
//
// Keep this interface minimal and stable. If a new instrument shape is ever
// needed, add a separate optional interface rather than expanding this one.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter records monotonic counts (e.g. task events processed).
// Methods must be safe for concurrent use.
type Counter interface {
	Add(n int64)
}

// UpDownCounter records values that can move up or down (e.g. runners
// currently live in the dispatcher's task map).
// Methods must be safe for concurrent use.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records a distribution of float64 measurements (e.g. handler
// duration in seconds).
// Methods must be safe for concurrent use.
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig carries optional instrument metadata. It's advisory only;
// a Provider implementation may ignore it entirely.
type InstrumentConfig struct {
	Description string
	Unit        string
}

// InstrumentOption mutates InstrumentConfig.
type InstrumentOption func(*InstrumentConfig)

// WithDescription sets an advisory description for the instrument.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit sets an advisory unit for the instrument (e.g. "1", "s").
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}
