package pipeline

import (
	"sync"
	"time"

	"demoreel/internal/jobs"
	"demoreel/internal/metrics"
)

// View is what a user sees: one status line plus the busy flag and the
// latest job and payment facts.
type View struct {
	Status           string     `json:"status"`
	Busy             bool       `json:"busy"`
	Wallet           string     `json:"wallet,omitempty"`
	JobID            string     `json:"jobId,omitempty"`
	State            jobs.State `json:"state,omitempty"`
	Progress         int        `json:"progress"`
	DownloadURL      string     `json:"downloadUrl,omitempty"`
	PaymentSignature string     `json:"paymentSignature,omitempty"`
	PaymentOutcome   string     `json:"paymentOutcome,omitempty"`
	ErrorKind        string     `json:"errorKind,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Projector owns the busy flag. It is the only state shared between
// pipeline runs and readers.
type Projector struct {
	mu       sync.Mutex
	view     View
	listener func(View)
	metrics  *metrics.Registry
}

func NewProjector(m *metrics.Registry) *Projector {
	return &Projector{metrics: m}
}

// OnChange registers fn to receive every view update. fn runs under the lock
// and must not call back into the projector.
func (p *Projector) OnChange(fn func(View)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

// TryBegin sets busy and resets per-run fields. It returns false, changing
// nothing, when a run is already in flight.
func (p *Projector) TryBegin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.view.Busy {
		p.metrics.IncBusyRejection()
		return false
	}
	wallet := p.view.Wallet
	p.view = View{Busy: true, Wallet: wallet}
	p.metrics.SetBusy(true)
	p.publish()
	return true
}

func (p *Projector) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Busy = false
	p.metrics.SetBusy(false)
	p.publish()
}

func (p *Projector) SetStatus(status string) {
	p.Update(func(v *View) { v.Status = status })
}

func (p *Projector) Update(fn func(*View)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.view)
	p.publish()
}

func (p *Projector) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *Projector) publish() {
	p.view.UpdatedAt = time.Now()
	if p.listener != nil {
		p.listener(p.view)
	}
}
