package collab

import "time"

// Autosave coalesces bursts of local edits into a single persist after a
// quiet period. It is a two-state machine (idle, armed) plus a saving flag
// guarding against overlapping persists. All methods except the internal
// timer callback are confined to the session loop; the timer hands control
// back to the loop through post before touching any state.
type Autosave struct {
	delay   time.Duration
	post    func(fn func())
	persist func(body string)

	timer  *time.Timer
	armed  bool
	saving bool
	dirty  bool
	body   string
}

func newAutosave(delay time.Duration, post func(func()), persist func(string)) *Autosave {
	return &Autosave{delay: delay, post: post, persist: persist}
}

// NotifyEdit records the latest body and restarts the quiet-period timer.
func (a *Autosave) NotifyEdit(body string) {
	a.body = body
	a.armed = true
	if a.timer == nil {
		a.timer = time.AfterFunc(a.delay, func() { a.post(a.fire) })
		return
	}
	a.timer.Reset(a.delay)
}

func (a *Autosave) fire() {
	if !a.armed {
		// cancelled or flushed between fire and delivery
		return
	}
	a.armed = false
	if a.saving {
		// a persist is outstanding; remember the edit for the next cycle
		a.dirty = true
		return
	}
	a.run()
}

func (a *Autosave) run() {
	a.saving = true
	a.persist(a.body)
	a.saving = false
	if a.dirty {
		a.dirty = false
		a.NotifyEdit(a.body)
	}
}

// Flush bypasses the quiet period and persists unsaved edits immediately.
// With nothing unsaved it is a no-op.
func (a *Autosave) Flush() {
	if a.timer != nil {
		a.timer.Stop()
	}
	if !a.armed {
		return
	}
	a.armed = false
	if a.saving {
		a.dirty = true
		return
	}
	a.run()
}

// Cancel stops the timer and forgets unsaved state. Used on session close;
// an in-flight persist is not interrupted.
func (a *Autosave) Cancel() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.armed = false
	a.dirty = false
}

// Armed reports whether unsaved edits are waiting on the quiet period.
func (a *Autosave) Armed() bool { return a.armed }

// Saving reports whether a persist is outstanding.
func (a *Autosave) Saving() bool { return a.saving }
