package quota

import (
	"context"
)

// Store - хранилище записей квоты. Ledger написан один раз против этого
// интерфейса; эфемерная и долговременная реализации взаимозаменяемы.
type Store interface {
	// Load возвращает запись или shared.ErrRecordNotFound.
	Load(ctx context.Context, identityID string) (Record, error)

	// Save перезаписывает счётчики записи.
	Save(ctx context.Context, identityID string, rec Record) error
}

// DayResetter - необязательная возможность долговременного хранилища:
// обнулить дневной счётчик, только если сохранённая дата всё ещё не today.
type DayResetter interface {
	ResetDay(ctx context.Context, identityID, today string) error
}

// TaskRunner выполняет фоновые задачи без ожидания результата.
// Submit возвращает false, если задача отброшена (переполнение, остановка).
type TaskRunner interface {
	Submit(name string, task func(ctx context.Context) error) bool
}

// goRunner - запасной TaskRunner: по горутине на задачу.
type goRunner struct{}

func (goRunner) Submit(_ string, task func(ctx context.Context) error) bool {
	go func() { _ = task(context.Background()) }()
	return true
}
