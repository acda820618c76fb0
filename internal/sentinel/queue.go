package sentinel

import "github.com/qorelogic/sentinel/internal/types"

// eventQueue holds one FIFO per priority tier. It is not safe for
// concurrent use; the daemon guards it with its mutex.
type eventQueue struct {
	tiers [4][]*types.Event
	size  int
	max   int
}

func newEventQueue(max int) *eventQueue {
	return &eventQueue{max: max}
}

// push adds ev and, when the queue overflows, drops and returns the newest
// event of the lowest non-empty tier (which may be ev itself)
func (q *eventQueue) push(ev *types.Event) *types.Event {
	tier := ev.Priority.Rank()
	q.tiers[tier] = append(q.tiers[tier], ev)
	q.size++
	if q.size <= q.max {
		return nil
	}
	for i := len(q.tiers) - 1; i >= 0; i-- {
		if n := len(q.tiers[i]); n > 0 {
			dropped := q.tiers[i][n-1]
			q.tiers[i][n-1] = nil
			q.tiers[i] = q.tiers[i][:n-1]
			q.size--
			return dropped
		}
	}
	return nil
}

// pop removes the oldest event of the most urgent non-empty tier
func (q *eventQueue) pop() *types.Event {
	for i := range q.tiers {
		if len(q.tiers[i]) > 0 {
			ev := q.tiers[i][0]
			q.tiers[i][0] = nil
			q.tiers[i] = q.tiers[i][1:]
			q.size--
			return ev
		}
	}
	return nil
}

func (q *eventQueue) len() int { return q.size }
