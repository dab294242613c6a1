package dispatcher

import "sync"

// SelectionStrategy orders the stores a Run claims from, and is told
// afterward which of them returned a non-empty batch so the next Run
// can adapt (DrainFirst) or simply rotate (RoundRobin).
type SelectionStrategy interface {
	Order(keys []string) []string
	Record(key string, nonEmpty bool)
}

// RoundRobin rotates the starting store by one per Run, guaranteeing no
// store is starved for more than len(keys)-1 Runs given non-empty
// queues.
type RoundRobin struct {
	mu    sync.Mutex
	start int
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Order(keys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(keys)
	if n == 0 {
		return nil
	}
	start := r.start % n
	r.start++
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, keys[(start+i)%n])
	}
	return out
}

func (r *RoundRobin) Record(_ string, _ bool) {}

// DrainFirst is sticky: it continues with the last store that returned
// a non-empty batch on the previous Run, falling back to the given
// order once that store runs dry.
type DrainFirst struct {
	mu   sync.Mutex
	last string
}

func NewDrainFirst() *DrainFirst { return &DrainFirst{} }

func (d *DrainFirst) Order(keys []string) []string {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	if last == "" {
		return append([]string(nil), keys...)
	}
	out := make([]string, 0, len(keys))
	found := false
	for _, k := range keys {
		if k == last {
			found = true
		}
	}
	if !found {
		return append([]string(nil), keys...)
	}
	out = append(out, last)
	for _, k := range keys {
		if k != last {
			out = append(out, k)
		}
	}
	return out
}

func (d *DrainFirst) Record(key string, nonEmpty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if nonEmpty {
		d.last = key
	} else if d.last == key {
		d.last = ""
	}
}
