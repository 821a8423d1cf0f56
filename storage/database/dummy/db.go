// Package dummydb keeps every table in memory. It backs the tests of the services and handlers.
package dummydb

import (
	"context"
	"sort"
	"sync"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/enrollment"
	"github.com/trezcool/elimu/core/importjob"
	"github.com/trezcool/elimu/core/progress"
	"github.com/trezcool/elimu/core/user"
)

type (
	DB struct {
		sync.RWMutex
		pk int64

		users map[string]*user.User
		// group name -> member ids
		groups map[string]map[string]bool

		courses         map[int64]*course.Course
		nodes           map[int64]*course.Node
		units           map[int64]*course.Unit
		unitBlocks      map[int64]*course.UnitBlock
		blocks          map[int64]*course.Block
		resources       map[int64]*course.Resource
		blockResources  map[int64][]int64 // block id -> resource ids
		courseResources map[int64][]int64 // course id -> resource ids

		enrollments map[int64]*enrollment.Enrollment

		milestones     map[int64]*progress.Milestone
		progresses     map[int64]*progress.MilestoneProgress
		progressBlocks map[int64]*progress.ProgressBlock
		answers        map[int64]*progress.SubmittedAnswer

		importTasks map[string]*importjob.TaskResult
	}

	// Transactor runs fn right away: the in-memory tables have no rollback.
	Transactor struct{}
)

var _ core.Transactor = Transactor{}

func Open() (*DB, error) {
	db := &DB{
		users:           make(map[string]*user.User),
		groups:          make(map[string]map[string]bool),
		courses:         make(map[int64]*course.Course),
		nodes:           make(map[int64]*course.Node),
		units:           make(map[int64]*course.Unit),
		unitBlocks:      make(map[int64]*course.UnitBlock),
		blocks:          make(map[int64]*course.Block),
		resources:       make(map[int64]*course.Resource),
		blockResources:  make(map[int64][]int64),
		courseResources: make(map[int64][]int64),
		enrollments:     make(map[int64]*enrollment.Enrollment),
		milestones:      make(map[int64]*progress.Milestone),
		progresses:      make(map[int64]*progress.MilestoneProgress),
		progressBlocks:  make(map[int64]*progress.ProgressBlock),
		answers:         make(map[int64]*progress.SubmittedAnswer),
		importTasks:     make(map[string]*importjob.TaskResult),
	}
	return db, nil
}

// nextPK must be called with the lock held.
func (db *DB) nextPK() int64 {
	db.pk++
	return db.pk
}

func (Transactor) RunInTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	return fn(nil)
}

func GroupMembers(db *DB, groupName string) []string {
	db.RLock()
	defer db.RUnlock()
	members := make([]string, 0, len(db.groups[groupName]))
	for id := range db.groups[groupName] {
		members = append(members, id)
	}
	return members
}

func sortByID[T any](items []T, id func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}
