package target

// Expander crosses source addresses with the configured port list,
// yielding one target per (address, port) pair in port-list order. It
// holds at most one address's expansion at a time, so memory stays
// bounded regardless of source size.
type Expander struct {
	src   Source
	ports []uint16
	cur   Address
	idx   int
	live  bool
}

// NewExpander wraps a source with a port list. The port list must be
// non-empty and is not copied; callers freeze it for the run.
func NewExpander(src Source, ports []uint16) *Expander {
	return &Expander{src: src, ports: ports}
}

// Next returns the next probe target, or false when the source is
// exhausted.
func (e *Expander) Next() (Target, bool) {
	for {
		if e.live {
			t := Target{Addr: e.cur, Port: e.ports[e.idx]}
			e.idx++
			if e.idx >= len(e.ports) {
				e.live = false
			}
			return t, true
		}

		addr, ok := e.src.Next()
		if !ok {
			return Target{}, false
		}
		e.cur = addr
		e.idx = 0
		e.live = true
	}
}
