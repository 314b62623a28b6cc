package controller

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jborean93/ansibug/util/waitmap"
)

// releaseSignal is delivered to a suspended worker thread when it is
// released, either by a targeted continue/step or by session teardown.
type releaseSignal struct {
	stepKind     StepKind
	waitingEnded bool
}

// waitMonitor is the controller's waiting_threads map and its condition
// variable (spec.md §3 Invariants, §4.5.2, §5 "single monitor"), built on
// top of util/waitmap.Map (kept from the teacher, a keyed once-per-value
// wait primitive): each suspend mints a fresh key for its thread so the
// same map instance serves every pause a thread goes through over the
// life of a session, and release/endSession resolve those keys the way
// waitmap's own Set/Get pair is meant to be used.
type waitMonitor struct {
	values *waitmap.Map
	gen    atomic.Int64

	mu      sync.Mutex
	current map[int]string
	ended   bool
}

func newWaitMonitor() *waitMonitor {
	return &waitMonitor{
		values:  waitmap.New(),
		current: make(map[int]string),
	}
}

// suspend registers threadID as waiting and blocks until release or
// endSession wakes it.
func (w *waitMonitor) suspend(threadID int) releaseSignal {
	w.mu.Lock()
	if w.ended {
		w.mu.Unlock()
		return releaseSignal{waitingEnded: true}
	}
	key := strconv.Itoa(threadID) + ":" + strconv.FormatInt(w.gen.Add(1), 10)
	w.current[threadID] = key
	w.mu.Unlock()

	res, err := w.values.Get(context.Background(), key)
	if err != nil {
		return releaseSignal{waitingEnded: true}
	}
	sig, _ := res[key].(releaseSignal)
	return sig
}

// release wakes exactly ids (or, if all is true, every currently
// waiting thread), delivering stepKind to each (spec.md §3 "a release
// wakes exactly the set of threads named by the request").
func (w *waitMonitor) release(ids []int, all bool, stepKind StepKind) {
	w.mu.Lock()
	targets := ids
	if all {
		targets = targets[:0]
		for id := range w.current {
			targets = append(targets, id)
		}
	}
	keys := make([]string, 0, len(targets))
	for _, id := range targets {
		if key, ok := w.current[id]; ok {
			keys = append(keys, key)
			delete(w.current, id)
		}
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.values.Set(key, releaseSignal{stepKind: stepKind})
	}
}

// endSession wakes every currently-waiting thread with waiting_ended
// and marks the monitor so any future suspend() returns immediately
// (spec.md §4.5.4 Teardown step (c), §4.5.2 step 6).
func (w *waitMonitor) endSession() {
	w.mu.Lock()
	w.ended = true
	keys := make([]string, 0, len(w.current))
	for id, key := range w.current {
		keys = append(keys, key)
		delete(w.current, id)
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.values.Set(key, releaseSignal{waitingEnded: true})
	}
}

func (w *waitMonitor) isWaiting(threadID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.current[threadID]
	return ok
}
