// Package authz はプロジェクト単位の認可判定を提供する。
//
// 判定はオーナーとLEADメンバーを管理者として扱う2段階モデルに基づく。
// オーナーはメンバーシップ行の有無にかかわらず常に管理者であり、
// LEADはメンバー管理とプロジェクト変更についてオーナーと同じ権限を持つ。
package authz

import "github.com/hitoshi/taskman/internal/model"

// 判定理由。ログとメトリクスのラベルに使う。
const (
	ReasonOwner            = "owner"
	ReasonLead             = "lead"
	ReasonMember           = "member"
	ReasonNotMember        = "not_member"
	ReasonInsufficientRole = "insufficient_role"
)

// Decision は認可判定の結果。
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide はプロジェクトの管理操作（更新・アーカイブ・削除・メンバー管理）を
// actorIDに許可するかを判定する。membershipはactorIDのメンバーシップで、所属していなければnil。
func Decide(project *model.Project, actorID string, membership *model.ProjectMember) Decision {
	if project.OwnerID == actorID {
		return Decision{Allowed: true, Reason: ReasonOwner}
	}
	if membership == nil {
		return Decision{Allowed: false, Reason: ReasonNotMember}
	}
	if membership.Role == model.MemberRoleLead {
		return Decision{Allowed: true, Reason: ReasonLead}
	}
	return Decision{Allowed: false, Reason: ReasonInsufficientRole}
}

// DecideOwner はオーナーのみに許可する操作の判定を行う。
func DecideOwner(project *model.Project, actorID string, membership *model.ProjectMember) Decision {
	if project.OwnerID == actorID {
		return Decision{Allowed: true, Reason: ReasonOwner}
	}
	if membership == nil {
		return Decision{Allowed: false, Reason: ReasonNotMember}
	}
	return Decision{Allowed: false, Reason: ReasonInsufficientRole}
}

// DecideView はプロジェクトの参照を許可するかを判定する。
// オーナーとロールを問わずメンバーであれば参照できる。
func DecideView(project *model.Project, actorID string, membership *model.ProjectMember) Decision {
	if project.OwnerID == actorID {
		return Decision{Allowed: true, Reason: ReasonOwner}
	}
	if membership == nil {
		return Decision{Allowed: false, Reason: ReasonNotMember}
	}
	return Decision{Allowed: true, Reason: ReasonMember}
}
