package services

import (
	"context"
	"errors"
	"testing"

	"github.com/flightops/opsync/internal/models"
)

func TestAssignRole_GrantAndEffectiveRole(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleViewer, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if got := env.permission.EffectiveRole(op.ID, bob.ID); got != RoleViewer {
		t.Errorf("effective role = %s, expected viewer", got)
	}

	// upgrading an existing membership updates the same row
	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleAdmin, alice.ID); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	if got := env.permission.EffectiveRole(op.ID, bob.ID); got != RoleAdmin {
		t.Errorf("effective role = %s, expected admin", got)
	}

	var count int64
	env.db.Model(&models.Membership{}).Where("operation_id = ? AND user_id = ?", op.ID, bob.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected a single membership row, got %d", count)
	}
}

func TestAssignRole_ActorLimits(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleCollaborator, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	// collaborators cannot manage members at all
	err := env.permission.AssignRole(context.Background(), op.ID, carol.ID, RoleViewer, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("collaborator should not manage members, got %v", err)
	}

	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleAdmin, alice.ID); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	// admins cannot hand out the creator role
	err = env.permission.AssignRole(context.Background(), op.ID, carol.ID, RoleCreator, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("only the creator can transfer creatorship, got %v", err)
	}

	// and nobody can touch the creator's membership except the creator
	err = env.permission.AssignRole(context.Background(), op.ID, alice.ID, RoleViewer, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("admin should not modify the creator's role, got %v", err)
	}
}

func TestAssignRole_CreatorTransfer(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleCreator, alice.ID); err != nil {
		t.Fatalf("creator transfer failed: %v", err)
	}

	if got := env.permission.EffectiveRole(op.ID, bob.ID); got != RoleCreator {
		t.Errorf("bob's role = %s, expected creator", got)
	}
	if got := env.permission.EffectiveRole(op.ID, alice.ID); got != RoleAdmin {
		t.Errorf("previous creator should be demoted to admin, got %s", got)
	}

	// self-transfer is meaningless
	err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleCreator, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("self-transfer should be denied, got %v", err)
	}
}

func TestRevokeRole_Rules(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleAdmin, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := env.permission.AssignRole(context.Background(), op.ID, carol.ID, RoleAdmin, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	// equal rank cannot revoke
	err := env.permission.RevokeRole(context.Background(), op.ID, carol.ID, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("admin revoking admin should be denied, got %v", err)
	}

	// the creator membership is untouchable
	err = env.permission.RevokeRole(context.Background(), op.ID, alice.ID, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("creator membership must not be revocable, got %v", err)
	}

	// the creator outranks everyone
	if err := env.permission.RevokeRole(context.Background(), op.ID, carol.ID, alice.ID); err != nil {
		t.Fatalf("creator revoke failed: %v", err)
	}
	if got := env.permission.EffectiveRole(op.ID, carol.ID); got != RoleNone {
		t.Errorf("carol should be out, got %s", got)
	}
	var count int64
	env.db.Model(&models.Membership{}).Where("operation_id = ? AND user_id = ?", op.ID, carol.ID).Count(&count)
	if count != 0 {
		t.Errorf("membership row without remaining roles should be deleted, found %d", count)
	}
}

// Covers the full inheritance story of a category: granting on the group
// operation fans out inherited collaborator roles, explicit roles coexist with
// inherited ones, and revocation on the group removes only the inherited part.
func TestGroupInheritance_GrantAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	group := env.createOperation(t, "tex-group", "tex", alice.ID)
	opA := env.createOperation(t, "tex-leg-a", "tex", alice.ID)
	opB := env.createOperation(t, "tex-leg-b", "tex", alice.ID)
	other := env.createOperation(t, "alpine-wave", "alpine", alice.ID)

	if err := env.permission.SetCategoryGroup(context.Background(), group.ID, alice.ID); err != nil {
		t.Fatalf("set category group failed: %v", err)
	}

	// bob holds an explicit viewer role on leg A before joining the group
	if err := env.permission.AssignRole(context.Background(), opA.ID, bob.ID, RoleViewer, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if err := env.permission.AssignRole(context.Background(), group.ID, bob.ID, RoleCollaborator, alice.ID); err != nil {
		t.Fatalf("group assign failed: %v", err)
	}

	// inherited collaborator wins over the explicit viewer on A
	if got := env.permission.EffectiveRole(opA.ID, bob.ID); got != RoleCollaborator {
		t.Errorf("effective role on leg A = %s, expected collaborator", got)
	}
	mA := env.membership(t, opA.ID, bob.ID)
	if Role(mA.Role) != RoleViewer || Role(mA.InheritedRole) != RoleCollaborator {
		t.Errorf("leg A row = role %q inherited %q, explicit role must survive", mA.Role, mA.InheritedRole)
	}

	// plain membership on B, nothing on the other category
	if got := env.permission.EffectiveRole(opB.ID, bob.ID); got != RoleCollaborator {
		t.Errorf("effective role on leg B = %s, expected collaborator", got)
	}
	if got := env.permission.EffectiveRole(other.ID, bob.ID); got != RoleNone {
		t.Errorf("other categories must be unaffected, got %s", got)
	}

	// leaving the group strips the inherited role only
	if err := env.permission.RevokeRole(context.Background(), group.ID, bob.ID, alice.ID); err != nil {
		t.Fatalf("group revoke failed: %v", err)
	}
	if got := env.permission.EffectiveRole(opA.ID, bob.ID); got != RoleViewer {
		t.Errorf("leg A should fall back to the explicit viewer role, got %s", got)
	}
	if got := env.permission.EffectiveRole(opB.ID, bob.ID); got != RoleNone {
		t.Errorf("leg B membership should be gone, got %s", got)
	}
	var count int64
	env.db.Model(&models.Membership{}).Where("operation_id = ? AND user_id = ?", opB.ID, bob.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected leg B row deleted, found %d", count)
	}
}

func TestSetCategoryGroup_MovesTheFlag(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	first := env.createOperation(t, "tex-group", "tex", alice.ID)
	second := env.createOperation(t, "tex-group-next", "tex", alice.ID)

	if err := env.permission.SetCategoryGroup(context.Background(), first.ID, alice.ID); err != nil {
		t.Fatalf("set category group failed: %v", err)
	}
	if err := env.permission.SetCategoryGroup(context.Background(), second.ID, alice.ID); err != nil {
		t.Fatalf("move category group failed: %v", err)
	}

	var ops []models.Operation
	env.db.Where("category = ? AND is_category_group = ?", "tex", true).Find(&ops)
	if len(ops) != 1 || ops[0].ID != second.ID {
		t.Errorf("exactly the second operation should carry the group flag, got %+v", ops)
	}
}

func TestSetCategoryGroup_MoveRevokesOldGrants(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	first := env.createOperation(t, "tex-group", "tex", alice.ID)
	second := env.createOperation(t, "tex-group-next", "tex", alice.ID)
	leg := env.createOperation(t, "tex-leg", "tex", alice.ID)

	if err := env.permission.SetCategoryGroup(context.Background(), first.ID, alice.ID); err != nil {
		t.Fatalf("set category group failed: %v", err)
	}
	if err := env.permission.AssignRole(context.Background(), first.ID, bob.ID, RoleCollaborator, alice.ID); err != nil {
		t.Fatalf("group assign failed: %v", err)
	}
	if err := env.permission.AssignRole(context.Background(), second.ID, carol.ID, RoleCollaborator, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if got := env.permission.EffectiveRole(leg.ID, bob.ID); got != RoleCollaborator {
		t.Fatalf("effective role on leg = %s, expected collaborator", got)
	}

	if err := env.permission.SetCategoryGroup(context.Background(), second.ID, alice.ID); err != nil {
		t.Fatalf("move category group failed: %v", err)
	}

	// bob was only a member of the old group: his inherited rows are gone
	if got := env.permission.EffectiveRole(leg.ID, bob.ID); got != RoleNone {
		t.Errorf("old group grant on leg should be revoked, got %s", got)
	}
	var count int64
	env.db.Model(&models.Membership{}).Where("operation_id = ? AND user_id = ?", leg.ID, bob.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected leg row deleted, found %d", count)
	}

	// his explicit membership on the old group operation itself survives
	if got := env.permission.EffectiveRole(first.ID, bob.ID); got != RoleCollaborator {
		t.Errorf("explicit role on the former group should survive, got %s", got)
	}

	// carol inherits from the new group, including onto the former group
	if got := env.permission.EffectiveRole(leg.ID, carol.ID); got != RoleCollaborator {
		t.Errorf("effective role on leg for carol = %s, expected collaborator", got)
	}
	if got := env.permission.EffectiveRole(first.ID, carol.ID); got != RoleCollaborator {
		t.Errorf("the former group is a regular target now, got %s", got)
	}
}

func TestSetCategoryGroup_RequiresManager(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	op := env.createOperation(t, "tex-group", "tex", alice.ID)

	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleCollaborator, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	err := env.permission.SetCategoryGroup(context.Background(), op.ID, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("collaborator should not designate the group operation, got %v", err)
	}
}

func TestRetryOne_RepairsRecordedFailure(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	group := env.createOperation(t, "tex-group", "tex", alice.ID)
	target := env.createOperation(t, "tex-leg-a", "tex", alice.ID)
	if err := env.permission.SetCategoryGroup(context.Background(), group.ID, alice.ID); err != nil {
		t.Fatalf("set category group failed: %v", err)
	}
	env.db.Create(&models.Membership{OperationID: group.ID, UserID: bob.ID, Role: string(RoleCollaborator)})

	retry := models.PropagationRetry{
		Category:    "tex",
		GroupOpID:   group.ID,
		OperationID: target.ID,
		UserID:      bob.ID,
		Action:      models.PropagationGrant,
	}
	env.db.Create(&retry)

	if err := env.permission.RetryOne(context.Background(), &retry); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if got := env.permission.EffectiveRole(target.ID, bob.ID); got != RoleCollaborator {
		t.Errorf("retry should grant the inherited role, got %s", got)
	}
	var count int64
	env.db.Model(&models.PropagationRetry{}).Count(&count)
	if count != 0 {
		t.Errorf("repaired retry row should be deleted, found %d", count)
	}
}

func TestRetryOne_SkipsSupersededGrant(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	group := env.createOperation(t, "tex-group", "tex", alice.ID)
	target := env.createOperation(t, "tex-leg-a", "tex", alice.ID)

	// bob already left the group before the retry runs
	retry := models.PropagationRetry{
		Category:    "tex",
		GroupOpID:   group.ID,
		OperationID: target.ID,
		UserID:      bob.ID,
		Action:      models.PropagationGrant,
	}
	env.db.Create(&retry)

	if err := env.permission.RetryOne(context.Background(), &retry); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if got := env.permission.EffectiveRole(target.ID, bob.ID); got != RoleNone {
		t.Errorf("superseded grant must not be applied, got %s", got)
	}
	var count int64
	env.db.Model(&models.PropagationRetry{}).Count(&count)
	if count != 0 {
		t.Errorf("superseded retry row should be deleted, found %d", count)
	}
}

func TestRetryByID_MissingRowIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	if err := env.permission.RetryByID(context.Background(), 12345); err != nil {
		t.Errorf("missing retry row should be treated as already repaired, got %v", err)
	}
}
