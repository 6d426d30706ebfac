package app

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pathoflow/internal/domain/entity"
)

// Task фоновый запуск с дескриптором завершения
type Task struct {
	ID      string
	Request Request

	cancel context.CancelFunc
	done   chan struct{}
	state  func() entity.RunState

	mu      sync.Mutex
	outcome *Outcome
	err     error
}

func newTask(req Request, cancel context.CancelFunc, state func() entity.RunState) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Request: req,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   state,
	}
}

// State текущее состояние пары (слайд, процесс) задачи
func (t *Task) State() entity.RunState {
	return t.state()
}

func (t *Task) finish(out *Outcome, err error) {
	t.mu.Lock()
	t.outcome, t.err = out, err
	t.mu.Unlock()
	close(t.done)
}

// Done закрывается по завершении задачи
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel отменяет задачу; уже начатая загрузка сети завершается
func (t *Task) Cancel() {
	t.cancel()
}

// Wait ждёт завершения задачи или отмены ctx
func (t *Task) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result итог задачи; до завершения возвращает nil, nil
func (t *Task) Result() (*Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.err
}
