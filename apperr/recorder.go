package apperr

import "sync"

// DefaultRecorderSize is how many errors a Recorder keeps.
const DefaultRecorderSize = 100

// Recorder keeps the most recent errors, newest first.
type Recorder struct {
	mu   sync.Mutex
	max  int
	errs []*Error
}

// NewRecorder creates a Recorder holding at most max errors.
func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = DefaultRecorderSize
	}
	return &Recorder{max: max}
}

// Record stores e at the front, dropping the oldest entry when full.
func (r *Recorder) Record(e *Error) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append([]*Error{e}, r.errs...)
	if len(r.errs) > r.max {
		r.errs = r.errs[:r.max]
	}
}

// Recent returns a copy of the recorded errors, newest first.
func (r *Recorder) Recent() []*Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Error, len(r.errs))
	copy(out, r.errs)
	return out
}

// ByKind returns the recorded errors of one kind, newest first.
func (r *Recorder) ByKind(kind Kind) []*Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Error
	for _, e := range r.errs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every recorded error.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.errs = nil
	r.mu.Unlock()
}
