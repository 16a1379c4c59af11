package auth

import "context"

// Subscribe returns a channel that receives the current state immediately and then a snapshot
// after every transition. Slow readers only ever see the latest snapshot. The channel is closed
// when ctx is done or the orchestrator is closed.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch
	}
	o.nextSubID++
	id := o.nextSubID
	o.subs[id] = ch
	ch <- o.snapshotLocked()
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-o.rootCtx.Done():
		}
		o.unsubscribe(id)
	}()
	return ch
}

func (o *Orchestrator) unsubscribe(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ch, ok := o.subs[id]; ok {
		delete(o.subs, id)
		close(ch)
	}
}

// publishLocked never blocks: a pending snapshot nobody has read yet is replaced.
func (o *Orchestrator) publishLocked() {
	if len(o.subs) == 0 {
		return
	}
	st := o.snapshotLocked()
	for _, ch := range o.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
