package dbrecovery

import "sync"

// Progress tracks completion as a tree of unit counters.
//
// A node has a total number of units. Units are completed directly with Add
// or delegated to a child created with Child; a child accounts for its
// weight in the parent's units however it splits its own total. The root
// fraction reported to observers never decreases.
type Progress struct {
	tree     *progressTree
	weight   int64
	total    int64
	done     int64
	complete bool
	children []*Progress
}

type progressTree struct {
	mu       sync.Mutex
	root     *Progress
	reported float64
	onChange func(float64)
}

// NewProgress creates a root progress of total units.
// onChange, if not nil, is called with the new root fraction each time it
// increases. It is called without internal locks held.
func NewProgress(total int64, onChange func(float64)) *Progress {
	tree := &progressTree{onChange: onChange}
	root := &Progress{tree: tree, total: total}
	tree.root = root
	return root
}

// Child reserves units of p for a sub-task and returns its progress.
// The child's own total starts at 1; use SetTotal to subdivide it.
func (p *Progress) Child(units int64) *Progress {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()

	child := &Progress{tree: p.tree, weight: units, total: 1}
	p.children = append(p.children, child)
	return child
}

// SetTotal changes the number of units of p.
func (p *Progress) SetTotal(total int64) {
	p.update(func() { p.total = total })
}

// Add completes n units of p.
func (p *Progress) Add(n int64) {
	p.update(func() { p.done += n })
}

// Complete marks p and all its children finished. Skipped sub-tasks are
// credited this way.
func (p *Progress) Complete() {
	p.update(func() { p.complete = true })
}

// Fraction returns the completed fraction of p in [0, 1].
// For the root this is the monotonic value reported to observers.
func (p *Progress) Fraction() float64 {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()

	if p == p.tree.root {
		return p.tree.reported
	}
	return p.fraction()
}

func (p *Progress) update(mutate func()) {
	p.tree.mu.Lock()
	mutate()
	f := p.tree.root.fraction()
	changed := f > p.tree.reported
	if changed {
		p.tree.reported = f
	}
	onChange := p.tree.onChange
	p.tree.mu.Unlock()

	if changed && onChange != nil {
		onChange(f)
	}
}

// fraction must be called with the tree lock held.
func (p *Progress) fraction() float64 {
	if p.complete {
		return 1
	}
	if p.total <= 0 {
		return 0
	}
	units := float64(p.done)
	for _, c := range p.children {
		units += c.fraction() * float64(c.weight)
	}
	f := units / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}
