package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	List(ctx context.Context, userID string, filter model.TaskFilter) ([]model.Task, error)
	Get(ctx context.Context, taskID, userID string) (*model.Task, error)
	Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	Update(ctx context.Context, taskID, userID string, in task.UpdateInput) (*model.Task, error)
	Delete(ctx context.Context, taskID, userID string) error
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service  TaskServiceInterface
	validate *validator.Validate
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{
		service:  service,
		validate: newValidator(),
	}
}

type createTaskRequest struct {
	ProjectID   string  `json:"project_id" validate:"required,uuid"`
	Title       string  `json:"title" validate:"required,min=3,max=200"`
	Description *string `json:"description"`
	Status      string  `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	Priority    string  `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *string `json:"due_date"`
	AssigneeID  *string `json:"assignee_id" validate:"omitempty,uuid"`
}

// nullableString はキーの有無とnullを区別して受け取る。
// キーがあればSetがtrueになり、nullの場合はValueがnilのまま残る。
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// updateTaskRequest のassignee_idに空文字を指定すると担当者を外す。
// due_dateはnullか空文字で期限を外す。
type updateTaskRequest struct {
	Title       *string        `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string        `json:"description"`
	Status      *string        `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	Priority    *string        `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     nullableString `json:"due_date"`
	AssigneeID  *string        `json:"assignee_id" validate:"omitempty,max=36"`
}

func (r updateTaskRequest) empty() bool {
	return r.Title == nil && r.Description == nil && r.Status == nil &&
		r.Priority == nil && !r.DueDate.Set && r.AssigneeID == nil
}

// parseDueDate はRFC3339または YYYY-MM-DD 形式の期限を解釈する。
func parseDueDate(raw *string) (*time.Time, *model.APIError) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, *raw); err == nil {
			return &t, nil
		}
	}
	return nil, model.NewValidationError("due_dateはISO 8601形式で指定してください")
}

// List はタスク一覧を返す。
// GET /api/tasks?project_id=&assignee_id=&status=
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := model.TaskFilter{
		ProjectID:  q.Get("project_id"),
		AssigneeID: q.Get("assignee_id"),
		Status:     model.TaskStatus(q.Get("status")),
	}
	if err := h.validate.Var(string(filter.Status), "omitempty,oneof=todo in_progress done"); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("statusはtodo, in_progress, doneのいずれかです"))
		return
	}

	tasks, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]taskResponse, len(tasks))
	for i := range tasks {
		out[i] = toTaskResponse(&tasks[i])
	}
	writeData(w, http.StatusOK, out)
}

// Get はタスク詳細を返す。
// GET /api/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toTaskResponse(t))
}

// Create はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	due, apiErr := parseDueDate(req.DueDate)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	t, err := h.service.Create(r.Context(), userID, task.CreateInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      model.TaskStatus(req.Status),
		Priority:    model.TaskPriority(req.Priority),
		DueDate:     due,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toTaskResponse(t))
}

// Update はタスクを更新する。
// PUT /api/tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if req.empty() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("更新する項目を1つ以上指定してください"))
		return
	}

	in := task.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
	}
	if req.DueDate.Set {
		due, apiErr := parseDueDate(req.DueDate.Value)
		if apiErr != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
			return
		}
		in.DueDate = due
		in.ClearDueDate = due == nil
	}
	if req.Status != nil {
		s := model.TaskStatus(*req.Status)
		in.Status = &s
	}
	if req.Priority != nil {
		p := model.TaskPriority(*req.Priority)
		in.Priority = &p
	}

	t, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toTaskResponse(t))
}

// Delete はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeMessage(w, "Task deleted successfully")
}
