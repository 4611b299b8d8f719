package respond

// Guard-reject kinds reported to the Observer.
const (
	RejectDuplicateHeaders = "duplicate_headers"
	RejectWriteAfterEnd    = "write_after_end"
	RejectDuplicateEnd     = "duplicate_end"
)

// Observer receives guard events for metrics. Implementations must not
// block; they are invoked on the response path.
type Observer interface {
	// GuardReject is called when a write is rejected by the state guard.
	GuardReject(kind string)
	// Termination is called once per termination episode, with its reason.
	Termination(reason string)
}

// nopObserver is the default Observer when none is injected.
type nopObserver struct{}

func (nopObserver) GuardReject(string) {}
func (nopObserver) Termination(string) {}
