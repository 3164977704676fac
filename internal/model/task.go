package model

import "time"

// TaskStatus はタスクの進捗状態を表す。
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// TaskPriority はタスクの優先度を表す。
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Task はプロジェクトに属する作業単位を表す。
type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description *string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
	AssigneeID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskFilter はタスク一覧の絞り込み条件を表す。空文字は条件なし。
type TaskFilter struct {
	ProjectID  string
	AssigneeID string
	Status     TaskStatus
}
