package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	ListVisible(ctx context.Context, userID string) ([]model.Project, error)
	ListOwned(ctx context.Context, userID string) ([]model.Project, error)
	Get(ctx context.Context, projectID, userID string) (*model.Project, error)
	Create(ctx context.Context, ownerID string, in project.CreateInput) (*model.Project, error)
	Update(ctx context.Context, projectID, userID string, in project.UpdateInput) (*model.Project, error)
	Archive(ctx context.Context, projectID, userID string) (*model.Project, error)
	Delete(ctx context.Context, projectID, userID string) error
	ListMembers(ctx context.Context, projectID, userID string) ([]model.ProjectMember, error)
	AddMember(ctx context.Context, projectID, actorID, email string, role model.MemberRole) (*model.ProjectMember, error)
	UpdateMemberRole(ctx context.Context, projectID, actorID, memberUserID string, role model.MemberRole) (*model.ProjectMember, error)
	RemoveMember(ctx context.Context, projectID, actorID, memberUserID string) error
	Activity(ctx context.Context, projectID, userID string, limit int) ([]model.ProjectActivity, error)
	Progress(ctx context.Context, projectID, userID string) (*model.ProjectProgress, error)
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	service  ProjectServiceInterface
	validate *validator.Validate
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{
		service:  service,
		validate: newValidator(),
	}
}

type createProjectRequest struct {
	Name        string  `json:"name" validate:"required,min=3,max=100"`
	Description *string `json:"description"`
	LabelColor  string  `json:"labelColor" validate:"omitempty,hexcolor,len=7"`
}

type updateProjectRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=3,max=100"`
	Description *string `json:"description"`
	LabelColor  *string `json:"labelColor" validate:"omitempty,hexcolor,len=7"`
	Status      *string `json:"status" validate:"omitempty,oneof=ACTIVE PLANNING DRAFT BLOCKED"`
}

func (r updateProjectRequest) empty() bool {
	return r.Name == nil && r.Description == nil && r.LabelColor == nil && r.Status == nil
}

type addMemberRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"omitempty,oneof=LEAD MEMBER VIEWER"`
}

type updateMemberRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=LEAD MEMBER VIEWER"`
}

// List は参照可能なプロジェクト一覧を返す。
// GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	projects, err := h.service.ListVisible(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toProjectResponses(projects))
}

// ListOwned は自分がオーナーのプロジェクト一覧を返す。
// GET /api/projects/me
func (h *ProjectHandler) ListOwned(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	projects, err := h.service.ListOwned(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toProjectResponses(projects))
}

// Get はプロジェクト詳細を返す。
// GET /api/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toProjectResponse(p))
}

// Create はプロジェクトを作成する。作成者がオーナー兼LEADになる。
// POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	p, err := h.service.Create(r.Context(), userID, project.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		LabelColor:  req.LabelColor,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toProjectResponse(p))
}

// Update はプロジェクトを更新する。
// PUT /api/projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProjectRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if req.empty() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("更新する項目を1つ以上指定してください"))
		return
	}

	in := project.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		LabelColor:  req.LabelColor,
	}
	if req.Status != nil {
		status := model.ProjectStatus(*req.Status)
		in.Status = &status
	}

	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toProjectResponse(p))
}

// Archive はプロジェクトをアーカイブする。
// PATCH /api/projects/{id}/archive
func (h *ProjectHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Archive(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toProjectResponse(p))
}

// Delete はプロジェクトを削除する。
// DELETE /api/projects/{id}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeMessage(w, "Project deleted successfully")
}

// ListMembers はメンバー一覧を返す。
// GET /api/projects/{id}/members
func (h *ProjectHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]memberResponse, len(members))
	for i := range members {
		out[i] = toMemberResponse(&members[i])
	}
	writeData(w, http.StatusOK, out)
}

// AddMember はメールアドレスで指定したユーザーをメンバーに追加する。
// POST /api/projects/{id}/members
func (h *ProjectHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addMemberRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	m, err := h.service.AddMember(r.Context(), chi.URLParam(r, "id"), userID, req.Email, model.MemberRole(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toMemberResponse(m))
}

// UpdateMemberRole はメンバーのロールを変更する。memberIdはユーザーID。
// PATCH /api/projects/{id}/members/{memberId}
func (h *ProjectHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateMemberRoleRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	m, err := h.service.UpdateMemberRole(r.Context(),
		chi.URLParam(r, "id"), userID, chi.URLParam(r, "memberId"), model.MemberRole(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, toMemberResponse(m))
}

// RemoveMember はメンバーを外す。
// DELETE /api/projects/{id}/members/{memberId}
func (h *ProjectHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), chi.URLParam(r, "id"), userID, chi.URLParam(r, "memberId")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeMessage(w, "Member removed successfully")
}

// Activity はアクティビティ履歴を新しい順に返す。
// GET /api/projects/{id}/activity?limit=N
func (h *ProjectHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("limitは1以上の整数で指定してください"))
			return
		}
		limit = n
	}

	activities, err := h.service.Activity(r.Context(), chi.URLParam(r, "id"), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	out := make([]activityResponse, len(activities))
	for i, a := range activities {
		out[i] = activityResponse{
			ID:        a.ID,
			ActorID:   a.ActorID,
			Action:    a.Action,
			EntityRef: a.EntityRef,
			CreatedAt: a.CreatedAt,
		}
	}
	writeData(w, http.StatusOK, out)
}

// Progress はタスクのステータス別件数と完了率を返す。
// GET /api/projects/{id}/progress
func (h *ProjectHandler) Progress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Progress(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, progressResponse{
		Total:      p.Total,
		Todo:       p.Todo,
		InProgress: p.InProgress,
		Done:       p.Done,
		Percent:    p.Percent(),
	})
}
