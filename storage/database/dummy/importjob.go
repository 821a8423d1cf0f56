package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/importjob"
)

type importTaskRepository struct {
	db *DB
}

var _ importjob.Repository = (*importTaskRepository)(nil)

func NewImportTaskRepository(db *DB) importjob.Repository {
	return &importTaskRepository{db: db}
}

func (repo *importTaskRepository) CreateTask(_ context.Context, t importjob.TaskResult, _ ...core.DBExecutor) (importjob.TaskResult, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.importTasks[t.ID] = &t
	return t, nil
}

func (repo *importTaskRepository) GetTask(_ context.Context, id string, _ ...core.DBExecutor) (importjob.TaskResult, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if t, ok := repo.db.importTasks[id]; ok {
		return *t, nil
	}
	return importjob.TaskResult{}, importjob.ErrTaskNotFound
}

func (repo *importTaskRepository) UpdateTask(_ context.Context, t importjob.TaskResult, _ ...core.DBExecutor) (importjob.TaskResult, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.importTasks[t.ID]; !ok {
		return importjob.TaskResult{}, importjob.ErrTaskNotFound
	}
	repo.db.importTasks[t.ID] = &t
	return t, nil
}

func (repo *importTaskRepository) ClaimNext(_ context.Context, _ ...core.DBExecutor) (importjob.TaskResult, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var next *importjob.TaskResult
	for _, t := range repo.db.importTasks {
		if t.Status == importjob.StatusPending && (next == nil || t.CreatedAt.Before(next.CreatedAt)) {
			next = t
		}
	}
	if next == nil {
		return importjob.TaskResult{}, importjob.ErrNoPendingTask
	}
	next.Status = importjob.StatusInProgress
	next.UpdatedAt = core.Now()
	return *next, nil
}

func (repo *importTaskRepository) QueryTasks(_ context.Context, createdBy string, _ ...core.DBExecutor) ([]importjob.TaskResult, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var tasks []importjob.TaskResult
	for _, t := range repo.db.importTasks {
		if createdBy == "" || t.CreatedBy == createdBy {
			tasks = append(tasks, *t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}
