package conn

import "github.com/tbxark/hsha/pkg/hsha/common"

// Table owns every connection slot. A slot is addressed by descriptor number;
// the descriptor is metadata on the slot, not a pointer into it.
type Table struct {
	slots []*Conn
	env   *Env
}

// NewTable pre-allocates size slots, each with its own Processor.
func NewTable(size int, env *Env, factory ProcessorFactory) *Table {
	env.withDefaults()
	t := &Table{
		slots: make([]*Conn, size),
		env:   env,
	}
	for i := range t.slots {
		t.slots[i] = newConn(env, factory())
	}
	return t
}

// Size returns the number of slots.
func (t *Table) Size() int {
	return len(t.slots)
}

// Slot returns the slot for fd.
func (t *Table) Slot(fd int) (*Conn, error) {
	if fd < 0 || fd >= len(t.slots) {
		return nil, &common.FDRangeError{FD: fd, Max: len(t.slots)}
	}
	return t.slots[fd], nil
}

// Active counts slots that are not free.
func (t *Table) Active() int {
	n := 0
	for _, c := range t.slots {
		if c.State() != Free {
			n++
		}
	}
	return n
}

// CloseAll closes every active slot. Workers must be stopped first.
func (t *Table) CloseAll() int {
	n := 0
	for _, c := range t.slots {
		if c.State() != Free {
			c.Close()
			n++
		}
	}
	return n
}
