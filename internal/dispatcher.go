package internal

import (
	"sync"
)

// Notifier
// consumer of classified batches. types and paths have length numEvents and
// share index correspondence with the raw batch that produced them.
type Notifier interface {
	Notify(numEvents int, types []ChangeType, paths []string)
}

// NotifyFunc adapts a plain function to the Notifier interface.
type NotifyFunc func(numEvents int, types []ChangeType, paths []string)

func (f NotifyFunc) Notify(numEvents int, types []ChangeType, paths []string) {
	f(numEvents, types, paths)
}

// Tee hands the same batch to each notifier in order.
type Tee []Notifier

func (t Tee) Notify(numEvents int, types []ChangeType, paths []string) {
	for _, n := range t {
		n.Notify(numEvents, types, paths)
	}
}

type DispatcherOption func(d *Dispatcher)

// WithEmptyBatches controls whether zero-length batches reach the notifier.
// They do by default.
func WithEmptyBatches(deliver bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.suppressEmpty = !deliver
	}
}

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher
// classifies raw batches and invokes the notifier once per batch. Batches
// are serialized, so a collaborator that delivers from several goroutines
// still sees one notification complete before the next begins.
type Dispatcher struct {
	mu            sync.Mutex
	notifier      Notifier
	suppressEmpty bool
	stopped       bool
	metrics       *Metrics
}

func NewDispatcher(n Notifier, options ...DispatcherOption) (*Dispatcher, error) {
	if n == nil {
		return nil, ErrNilNotifier
	}

	d := Dispatcher{
		notifier: n,
		metrics:  NewMetrics(),
	}
	for _, op := range options {
		op(&d)
	}

	return &d, nil
}

// ProcessBatch classifies paths[i] with flags[i] for every i and hands the
// result to the notifier. Mismatched lengths panic with *ContractViolation.
// The notifier runs on the caller's goroutine; while it blocks, later
// batches for this dispatcher wait.
func (d *Dispatcher) ProcessBatch(paths []string, flags []Flag) {
	if len(paths) != len(flags) {
		panic(&ContractViolation{Paths: len(paths), Flags: len(flags)})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	numEvents := len(paths)
	if numEvents == 0 && d.suppressEmpty {
		d.metrics.RecordSuppressed()
		return
	}

	types := make([]ChangeType, numEvents)
	for i := 0; i < numEvents; i++ {
		types[i] = Classify(flags[i], paths[i])
	}

	if paths == nil {
		paths = []string{}
	}

	d.notifier.Notify(numEvents, types, paths)
	d.metrics.RecordBatch(types)
}

// Stop prevents further notifications. It waits for an in-flight batch to
// finish, so it must not be called from inside the notifier.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Dispatcher) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}
