package conn

// State is the lifecycle position of a connection slot.
type State int32

const (
	Free       State = iota // slot unused
	Reading                 // reactor owns it, armed for read
	Queued                  // handed to the worker pool
	Processing              // a worker owns it
	Writing                 // reactor owns it, armed for write
	Closed                  // being torn down
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Reading:
		return "reading"
	case Queued:
		return "queued"
	case Processing:
		return "processing"
	case Writing:
		return "writing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReactorOwned reports whether the reactor goroutine may touch the buffers.
func (s State) ReactorOwned() bool {
	return s == Reading || s == Writing
}
