package model

import "time"

// ProjectStatus はプロジェクトの状態を表す。
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "ACTIVE"
	ProjectStatusPlanning ProjectStatus = "PLANNING"
	ProjectStatusDraft    ProjectStatus = "DRAFT"
	ProjectStatusBlocked  ProjectStatus = "BLOCKED"
)

// DefaultLabelColor はラベル色未指定時の既定値。
const DefaultLabelColor = "#6366f1"

// Project はタスクを束ねるプロジェクトを表す。
type Project struct {
	ID          string
	Name        string
	Description *string
	LabelColor  string
	Status      ProjectStatus
	OwnerID     string
	ArchivedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MemberRole はプロジェクト内でのロールを表す。
type MemberRole string

const (
	MemberRoleLead   MemberRole = "LEAD"
	MemberRoleMember MemberRole = "MEMBER"
	MemberRoleViewer MemberRole = "VIEWER"
)

// Valid は定義済みのロールかを返す。
func (r MemberRole) Valid() bool {
	switch r {
	case MemberRoleLead, MemberRoleMember, MemberRoleViewer:
		return true
	}
	return false
}

// ProjectMember はユーザーとプロジェクトの所属関係を表す。
// (ProjectID, UserID) は一意。
type ProjectMember struct {
	ProjectID string
	UserID    string
	Email     string // 一覧表示用。usersから結合して取得する
	Role      MemberRole
	JoinedAt  time.Time
}

// プロジェクトアクティビティのアクション名。
const (
	ActivityProjectCreated  = "project.created"
	ActivityProjectUpdated  = "project.updated"
	ActivityProjectArchived = "project.archived"
	ActivityMemberAdded     = "member.added"
	ActivityMemberUpdated   = "member.role_updated"
	ActivityMemberRemoved   = "member.removed"
	ActivityTaskCreated     = "task.created"
	ActivityTaskUpdated     = "task.updated"
	ActivityTaskDeleted     = "task.deleted"
)

// ProjectActivity はプロジェクトに対する操作履歴の1件を表す。
type ProjectActivity struct {
	ID        string
	ProjectID string
	ActorID   string
	Action    string
	EntityRef *string
	CreatedAt time.Time
}

// ProjectProgress はタスクのステータス別件数を表す。
type ProjectProgress struct {
	Total      int
	Todo       int
	InProgress int
	Done       int
}

// Percent は完了率（0〜100）を返す。タスクがない場合は0。
func (p ProjectProgress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}
