package authz

import (
	"testing"

	"github.com/hitoshi/taskman/internal/model"
)

func member(role model.MemberRole) *model.ProjectMember {
	return &model.ProjectMember{ProjectID: "p1", UserID: "actor", Role: role}
}

func TestDecide(t *testing.T) {
	owned := &model.Project{ID: "p1", OwnerID: "actor"}
	other := &model.Project{ID: "p1", OwnerID: "owner"}

	tests := []struct {
		name        string
		project     *model.Project
		membership  *model.ProjectMember
		wantAllowed bool
		wantReason  string
	}{
		{"owner without membership row", owned, nil, true, ReasonOwner},
		{"owner with viewer row", owned, member(model.MemberRoleViewer), true, ReasonOwner},
		{"lead", other, member(model.MemberRoleLead), true, ReasonLead},
		{"member", other, member(model.MemberRoleMember), false, ReasonInsufficientRole},
		{"viewer", other, member(model.MemberRoleViewer), false, ReasonInsufficientRole},
		{"outsider", other, nil, false, ReasonNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.project, "actor", tt.membership)
			if d.Allowed != tt.wantAllowed || d.Reason != tt.wantReason {
				t.Errorf("Decide() = %+v, want {%v %s}", d, tt.wantAllowed, tt.wantReason)
			}
		})
	}
}

func TestDecideOwner_LeadIsNotEnough(t *testing.T) {
	project := &model.Project{ID: "p1", OwnerID: "owner"}

	if d := DecideOwner(project, "owner", nil); !d.Allowed {
		t.Errorf("owner denied: %+v", d)
	}
	if d := DecideOwner(project, "actor", member(model.MemberRoleLead)); d.Allowed || d.Reason != ReasonInsufficientRole {
		t.Errorf("lead = %+v, want denied with insufficient_role", d)
	}
	if d := DecideOwner(project, "actor", nil); d.Allowed || d.Reason != ReasonNotMember {
		t.Errorf("outsider = %+v, want denied with not_member", d)
	}
}

func TestDecideView_AnyMemberCanView(t *testing.T) {
	project := &model.Project{ID: "p1", OwnerID: "owner"}

	for _, role := range []model.MemberRole{model.MemberRoleLead, model.MemberRoleMember, model.MemberRoleViewer} {
		if d := DecideView(project, "actor", member(role)); !d.Allowed {
			t.Errorf("%s denied view: %+v", role, d)
		}
	}
	if d := DecideView(project, "actor", nil); d.Allowed {
		t.Error("outsider should not view")
	}
}

// オーナー権限は常にリード権限を包含する
func TestDecide_OwnershipIsSupersetOfLead(t *testing.T) {
	roles := []*model.ProjectMember{nil, member(model.MemberRoleLead), member(model.MemberRoleMember), member(model.MemberRoleViewer)}
	for _, m := range roles {
		asOwner := Decide(&model.Project{OwnerID: "actor"}, "actor", m)
		asNonOwner := Decide(&model.Project{OwnerID: "owner"}, "actor", m)
		if asNonOwner.Allowed && !asOwner.Allowed {
			t.Errorf("membership %+v: non-owner allowed but owner denied", m)
		}
		if !asOwner.Allowed {
			t.Errorf("membership %+v: owner denied", m)
		}
	}
}
