package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
)

// DefaultBackgroundSlots is how many long operations run at once.
const DefaultBackgroundSlots = 2

// Task is the future of a background operation.
type Task[T any] struct {
	ID string

	done  chan struct{}
	value T
	err   error
}

// Wait blocks until the task finished and returns its result.
func (t *Task[T]) Wait() (T, error) {
	<-t.done
	return t.value, t.err
}

// Done is closed when the task finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Background runs long operations on a fixed number of slots so the
// caller never blocks on them. Extra work queues for a free slot.
type Background struct {
	slots chan struct{}
}

// NewBackground creates a pool with n slots (at least one).
func NewBackground(n int) *Background {
	if n < 1 {
		n = 1
	}
	return &Background{slots: make(chan struct{}, n)}
}

// Submit schedules fn on b and returns its task immediately. A panic inside fn
// is recovered and becomes the task's error.
func Submit[T any](b *Background, fn func() (T, error)) *Task[T] {
	t := &Task[T]{ID: newTaskID(), done: make(chan struct{})}

	go func() {
		b.slots <- struct{}{}
		defer func() { <-b.slots }()
		defer close(t.done)

		var pc panics.Catcher
		pc.Try(func() {
			t.value, t.err = fn()
		})
		if r := pc.Recovered(); r != nil {
			log.Printf("[Pipeline] Task %s panicked: %s", t.ID, r.String())
			t.err = r.AsError()
		}
	}()

	return t
}

// newTaskID returns a time-ordered UUIDv7.
func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return id.String()
}
