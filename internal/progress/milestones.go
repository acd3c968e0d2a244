package progress

// MiB is the step used when the total size is unknown.
const MiB = 1 << 20

// Milestone describes one coarse progress step.
type Milestone struct {
	Done  int64
	Total int64
	// Percent is the crossed percentage step, or -1 when Total is unknown.
	Percent int
}

// Milestones reports progress only when it crosses a coarse boundary: every
// step percent of a known total, or every MiB when the total is unknown.
// It is not safe for concurrent use; each transfer owns its own.
type Milestones struct {
	total    int64
	step     int
	done     int64
	next     int64
	nextPct  int
	onReport func(Milestone)
}

// NewMilestones returns a reporter for total bytes. step is a percentage and
// defaults to 10 when out of range.
func NewMilestones(total int64, step int, onReport func(Milestone)) *Milestones {
	if step <= 0 || step > 100 {
		step = 10
	}
	m := &Milestones{total: total, step: step, onReport: onReport}
	if total > 0 {
		m.nextPct = step
		m.next = threshold(total, step)
	} else {
		m.next = MiB
	}
	return m
}

func threshold(total int64, pct int) int64 {
	return (total*int64(pct) + 99) / 100
}

// Add records n more bytes and emits any boundaries crossed. Several steps
// crossed at once collapse into a single report for the highest one.
func (m *Milestones) Add(n int64) {
	if n <= 0 {
		return
	}
	m.done += n
	if m.done < m.next {
		return
	}
	if m.total > 0 {
		pct := m.nextPct
		for m.nextPct <= 100 && m.done >= m.next {
			pct = m.nextPct
			m.nextPct += m.step
			m.next = threshold(m.total, m.nextPct)
		}
		if m.nextPct > 100 {
			m.next = 1<<63 - 1
		}
		m.emit(pct)
		return
	}
	m.next = (m.done/MiB + 1) * MiB
	m.emit(-1)
}

// Set records an absolute byte count.
func (m *Milestones) Set(done int64) {
	m.Add(done - m.done)
}

func (m *Milestones) emit(pct int) {
	if m.onReport != nil {
		m.onReport(Milestone{Done: m.done, Total: m.total, Percent: pct})
	}
}
