package taskqueue

// loop is the queue's scheduler. It takes the head of the pending list once
// the bucket can afford it, waits for a concurrency slot, and starts it.
func (q *Queue) loop() {
	defer close(q.loopDone)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			added := NewDeferred[struct{}]()
			q.added = added
			q.mu.Unlock()
			if !sleep(q.stopCh, added.Done()) {
				return
			}
			continue
		}

		rec := q.pending[0]
		if rec.cost > q.burstLimit {
			// Admission rejects these; guard against a head that can never be afforded.
			q.pending = slicesDropHead(q.pending)
			q.mu.Unlock()
			if rec.cancel(TaskTooExpensive) {
				q.emit(Event{Type: EventCancelled, TaskID: rec.id, Label: rec.label, Cost: rec.cost, Err: TaskTooExpensive})
			}
			continue
		}
		if !q.bucket.refillAndSpend(q.clock.Now(), rec.cost) {
			wait := q.bucket.wait(rec.cost)
			q.mu.Unlock()
			if !sleep(q.stopCh, q.clock.After(wait)) {
				return
			}
			continue
		}
		q.pending = slicesDropHead(q.pending)
		if !rec.transition(statePending, stateDispatched) {
			// Aborted between the spend and the dispatch; give the tokens back.
			q.bucket.tokens = min(q.bucket.burst, q.bucket.tokens+rec.cost)
			q.mu.Unlock()
			continue
		}

		for q.running >= q.concurrency {
			finished := NewDeferred[struct{}]()
			q.finished = finished
			q.mu.Unlock()
			if !sleep(q.stopCh, finished.Done()) {
				q.dropDispatched(rec)
				return
			}
			q.mu.Lock()
		}
		if q.closed {
			q.mu.Unlock()
			q.dropDispatched(rec)
			return
		}
		q.running++
		q.mu.Unlock()
		q.start(rec)
	}
}

// dropDispatched rejects a dispatched task that lost its start to Close.
func (q *Queue) dropDispatched(rec *taskRecord) {
	if !rec.transition(stateDispatched, stateCancelled) {
		return
	}
	rec.detach()
	err := closedError()
	rec.reject(err)
	q.emit(Event{Type: EventCancelled, TaskID: rec.id, Label: rec.label, Cost: rec.cost, Err: err})
}

// sleep waits for ch and reports false if stop was closed first.
func sleep[T any](stop <-chan struct{}, ch <-chan T) bool {
	select {
	case <-ch:
		return true
	case <-stop:
		return false
	}
}

func (q *Queue) start(rec *taskRecord) {
	q.tasks.Add(1)
	go func() {
		defer q.tasks.Done()
		startedAt := q.clock.Now()
		q.emit(Event{Type: EventStarted, TaskID: rec.id, Label: rec.label, Cost: rec.cost, At: startedAt, QueueDelay: startedAt.Sub(rec.admittedAt)})
		if ran, err := rec.run(); ran {
			now := q.clock.Now()
			q.emit(Event{
				Type:       EventFinished,
				TaskID:     rec.id,
				Label:      rec.label,
				Cost:       rec.cost,
				At:         now,
				QueueDelay: startedAt.Sub(rec.admittedAt),
				Duration:   now.Sub(startedAt),
				Err:        err,
			})
		}

		q.mu.Lock()
		q.running--
		finished := q.finished
		q.mu.Unlock()
		finished.Resolve(struct{}{})
	}()
}

func slicesDropHead(s []*taskRecord) []*taskRecord {
	s[0] = nil
	return s[1:]
}
