package conn

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tbxark/hsha/pkg/hsha/poller"
)

type regCall struct {
	op string
	fd int
	in poller.Interest
}

type fakeRegistrar struct {
	mu     sync.Mutex
	calls  []regCall
	addErr error
	armErr error
}

func (r *fakeRegistrar) record(op string, fd int, in poller.Interest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, regCall{op: op, fd: fd, in: in})
}

func (r *fakeRegistrar) Add(fd int, in poller.Interest) error {
	r.record("add", fd, in)
	return r.addErr
}

func (r *fakeRegistrar) Arm(fd int, in poller.Interest) error {
	r.record("arm", fd, in)
	return r.armErr
}

func (r *fakeRegistrar) Remove(fd int) error {
	r.record("remove", fd, 0)
	return nil
}

func (r *fakeRegistrar) last() regCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return regCall{}
	}
	return r.calls[len(r.calls)-1]
}

func (r *fakeRegistrar) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type readStep struct {
	data string
	err  error
}

// fakeIO scripts reads and records writes. maxWrite caps each write call to
// simulate a kernel accepting only part of the buffer; blockAfterWrite makes
// every successful write be followed by one EAGAIN.
type fakeIO struct {
	mu              sync.Mutex
	reads           []readStep
	written         bytes.Buffer
	maxWrite        int
	blockAfterWrite bool
	blockNext       bool
	writeErr        error
	writeCalls      int
	closed          map[int]int
}

func newFakeIO(reads ...readStep) *fakeIO {
	return &fakeIO{reads: reads, closed: make(map[int]int)}
}

func (f *fakeIO) Read(fd int, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return 0, unix.EAGAIN
	}
	step := f.reads[0]
	if step.err != nil {
		f.reads = f.reads[1:]
		return 0, step.err
	}
	n := copy(p, step.data)
	if n < len(step.data) {
		f.reads[0].data = step.data[n:]
	} else {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakeIO) Write(fd int, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.blockNext {
		f.blockNext = false
		return 0, unix.EAGAIN
	}
	n := len(p)
	if f.maxWrite > 0 && n > f.maxWrite {
		n = f.maxWrite
	}
	f.written.Write(p[:n])
	f.blockNext = f.blockAfterWrite
	return n, nil
}

func (f *fakeIO) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[fd]++
	return nil
}

func (f *fakeIO) closeCount(fd int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[fd]
}

func (f *fakeIO) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// echoProcessor answers every buffered request with the request bytes.
type echoProcessor struct {
	keepAlive bool
	calls     atomic.Int32
	resets    atomic.Int32
}

func (p *echoProcessor) Process(in []byte) Outcome {
	p.calls.Add(1)
	return Outcome{
		Status:    Respond,
		Consumed:  len(in),
		Response:  append([]byte(nil), in...),
		KeepAlive: p.keepAlive,
	}
}

func (p *echoProcessor) Reset() { p.resets.Add(1) }

// lineProcessor answers one newline-terminated line at a time.
type lineProcessor struct{}

func (lineProcessor) Process(in []byte) Outcome {
	i := strings.IndexByte(string(in), '\n')
	if i < 0 {
		return Outcome{Status: NeedMore}
	}
	if string(in[:i]) == "QUIT" {
		return Outcome{Status: Fatal}
	}
	return Outcome{
		Status:    Respond,
		Consumed:  i + 1,
		Response:  append([]byte("> "), in[:i+1]...),
		KeepAlive: true,
	}
}

func (lineProcessor) Reset() {}

type funcProcessor func(in []byte) Outcome

func (f funcProcessor) Process(in []byte) Outcome { return f(in) }
func (f funcProcessor) Reset()                    {}
