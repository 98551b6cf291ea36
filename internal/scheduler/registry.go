package scheduler

import (
	"errors"
	"sync"
	"time"
)

// ErrControllerActive is returned when a second editing session is requested for
// a queue that already has one.
var ErrControllerActive = errors.New("scheduler: controller already active for queue")

// QueueKey identifies a teacher's queue for one calendar day.
type QueueKey struct {
	TeacherID string
	Day       string
}

// KeyFor builds the key for a teacher and day. The day is formatted in its own
// location; callers pass dates already expressed in the school's zone.
func KeyFor(teacherID string, day time.Time) QueueKey {
	return QueueKey{TeacherID: teacherID, Day: day.Format(time.DateOnly)}
}

// Registry hands out at most one active controller per queue key.
type Registry struct {
	mu     sync.Mutex
	active map[QueueKey]*QueueController
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[QueueKey]*QueueController)}
}

// Acquire creates a controller for the queue and enters adjustment mode. It
// fails when the key already has an active controller.
func (r *Registry) Acquire(key QueueKey, queue *TeacherQueue, settings ControllerSettings) (*QueueController, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[key]; ok {
		return nil, ErrControllerActive
	}
	controller := NewQueueController(queue, settings)
	if err := controller.StartAdjustmentMode(); err != nil {
		return nil, err
	}
	r.active[key] = controller
	return controller, nil
}

// Active returns the controller registered for key.
func (r *Registry) Active(key QueueKey) (*QueueController, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	controller, ok := r.active[key]
	return controller, ok
}

// Release exits adjustment mode and frees the key. Releasing a controller that
// is not the registered one is a no-op.
func (r *Registry) Release(key QueueKey, controller *QueueController) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.active[key]
	if !ok || current != controller {
		return
	}
	if controller.Adjusting() {
		controller.ExitAdjustmentMode()
	}
	delete(r.active, key)
}

// Len returns the number of active controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
