package dispatch

import "fmt"

// RetryPlacement decides where a retried item re-enters the queue.
type RetryPlacement string

// Retry placements.
const (
	// RetryFront puts retries ahead of everything else, including a newer
	// item that was read but not yet admitted.
	RetryFront RetryPlacement = "front"

	// RetryBack appends retries behind other queued retries.
	RetryBack RetryPlacement = "back"
)

// ParseRetryPlacement maps a config value to a placement. Empty means front.
func ParseRetryPlacement(s string) (RetryPlacement, error) {
	switch RetryPlacement(s) {
	case "", RetryFront:
		return RetryFront, nil
	case RetryBack:
		return RetryBack, nil
	default:
		return "", fmt.Errorf("%w: unknown retry placement %q", ErrInvalidConfig, s)
	}
}

// attemptState tracks one item while it is owned by the loop.
type attemptState struct {
	breakerDone func(error)
	errs        []*AttemptError
	item        WorkItem
	attempts    int

	// debited is set once the limiter has charged the next attempt but the
	// attempt has not launched yet.
	debited bool
}

func newAttemptState(item WorkItem) *attemptState {
	return &attemptState{item: item}
}

// retryQueue is the ordered queue of items waiting for another attempt.
// It is only touched by the loop goroutine.
type retryQueue struct {
	items []*attemptState
}

func (q *retryQueue) Len() int {
	return len(q.items)
}

func (q *retryQueue) Push(s *attemptState, placement RetryPlacement) {
	if placement == RetryBack {
		q.items = append(q.items, s)
		return
	}
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = s
}

func (q *retryQueue) Pop() *attemptState {
	if len(q.items) == 0 {
		return nil
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return s
}
