package sandbox

import "sync"

// loop serializes all access to one VM. Tasks posted while another task
// runs are queued behind it, so bus callbacks raised from inside a script
// never re-enter the VM.
type loop struct {
	mu     sync.Mutex
	tasks  []func() // Protected by mu
	closed bool     // Protected by mu

	wake chan struct{}
	done chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.tasks) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := l.tasks[0]
			l.tasks = l.tasks[1:]
			l.mu.Unlock()

			task()
		}
	}
}

// post queues task and reports whether the loop accepted it
func (l *loop) post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs task on the loop and waits for it
func (l *loop) call(task func()) bool {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		task()
	}) {
		return false
	}
	<-finished
	return true
}

// close runs the queued tasks and stops the loop
func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}
