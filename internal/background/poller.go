package background

import (
	"sync"
	"time"
)

const (
	defaultPollInterval = time.Second
	defaultRetain       = 30 * time.Second
)

// Job is one tracked background run in the foreground job table.
type Job struct {
	RunID         string
	Status        *RunStatus // nil while the status file is absent
	StatusMissing bool       // file absent is distinct from present-and-failed
	doneAt        time.Time
}

// Terminal reports whether the job's last observed status is final.
func (j *Job) Terminal() bool {
	return j.Status != nil && j.Status.Terminal()
}

// Poller maintains the in-memory job table for a session. It periodically
// re-reads each tracked run's status file and scans the results directory for
// completion files belonging to this session. The durable files stay
// authoritative; this table is a rebuildable cache for rendering.
type Poller struct {
	Dirs       Dirs
	SessionID  string
	Cwd        string
	Interval   time.Duration
	Retain     time.Duration
	OnUpdate   func(*Job)
	OnComplete func(*ResultFile)

	mu       sync.Mutex
	jobs     map[string]*Job
	notified map[string]bool
	stop     chan struct{}
	done     chan struct{}
}

// NewPoller creates a stopped Poller for the given session identity.
func NewPoller(dirs Dirs, sessionID, cwd string) *Poller {
	return &Poller{
		Dirs:      dirs,
		SessionID: sessionID,
		Cwd:       cwd,
		Interval:  defaultPollInterval,
		Retain:    defaultRetain,
		jobs:      make(map[string]*Job),
		notified:  make(map[string]bool),
	}
}

// Track adds a run to the job table.
func (p *Poller) Track(runID string) {
	p.mu.Lock()
	if _, ok := p.jobs[runID]; !ok {
		p.jobs[runID] = &Job{RunID: runID}
	}
	p.mu.Unlock()
}

// Jobs returns a snapshot of the current job table.
func (p *Poller) Jobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		copy := *j
		out = append(out, &copy)
	}
	return out
}

// Start begins polling. Stop must be called exactly once afterwards.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop()
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (p *Poller) loop() {
	defer close(p.done)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll performs one refresh pass: reload tracked statuses, drop stale
// terminal jobs, and raise completion events for new result files.
func (p *Poller) Poll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.jobs))
	for id := range p.jobs {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		st, err := LoadStatus(p.Dirs.StatusFile(id))

		p.mu.Lock()
		job := p.jobs[id]
		if job == nil {
			p.mu.Unlock()
			continue
		}
		if err != nil {
			job.StatusMissing = true
			job.Status = nil
		} else {
			wasTerminal := job.Terminal()
			job.StatusMissing = false
			job.Status = st
			if st.Terminal() && !wasTerminal {
				job.doneAt = time.Now()
			}
		}
		update := p.OnUpdate
		snapshot := *job
		p.mu.Unlock()

		if update != nil {
			update(&snapshot)
		}
	}

	// Retain finished jobs briefly for rendering, then drop them.
	p.mu.Lock()
	for id, job := range p.jobs {
		if job.Terminal() && !job.doneAt.IsZero() && time.Since(job.doneAt) > p.Retain {
			delete(p.jobs, id)
		}
	}
	p.mu.Unlock()

	p.scanResults()
}

// scanResults raises OnComplete once per result file belonging to this
// session; foreign files are discarded by the session-identity filter.
func (p *Poller) scanResults() {
	results, err := p.Dirs.ScanResults(p.SessionID, p.Cwd)
	if err != nil {
		return
	}
	for _, rf := range results {
		p.mu.Lock()
		seen := p.notified[rf.RunID]
		if !seen {
			p.notified[rf.RunID] = true
		}
		complete := p.OnComplete
		p.mu.Unlock()

		if !seen && complete != nil {
			complete(rf)
		}
	}
}
