package conn

// Status is the verdict of a Processor over the buffered input.
type Status int

const (
	NeedMore Status = iota // request incomplete, read more
	Respond                // Response is ready to be written
	Fatal                  // unrecoverable protocol error, close the connection
)

func (s Status) String() string {
	switch s {
	case NeedMore:
		return "need_more"
	case Respond:
		return "respond"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Process call.
type Outcome struct {
	Status Status
	// Consumed is the number of input bytes that made up the request.
	// Zero or out-of-range values mean the whole buffer.
	Consumed  int
	Response  []byte
	KeepAlive bool
}

// Processor turns buffered request bytes into a response. Each connection
// slot owns its Processor; it is never called concurrently.
type Processor interface {
	Process(in []byte) Outcome
	// Reset drops any per-connection state before the slot is reused.
	Reset()
}

// ProcessorFactory creates the Processor for one connection slot.
type ProcessorFactory func() Processor
