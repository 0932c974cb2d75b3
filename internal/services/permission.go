package services

import (
	"context"
	"errors"
	"time"

	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/pkg/logger"
	"gorm.io/gorm"
)

// PermissionService implements role assignment and category-based group
// inheritance. One operation per category may be flagged as the category's
// group operation; its membership list is the source of inherited
// collaborator roles on every other operation of the category.
type PermissionService struct {
	db  *gorm.DB
	seq *Sequencer
	hub *Hub
}

func NewPermissionService(db *gorm.DB, seq *Sequencer, hub *Hub) *PermissionService {
	return &PermissionService{db: db, seq: seq, hub: hub}
}

// effectiveRole is the maximum of a user's explicit and inherited role on an
// operation, RoleNone when the user holds no membership.
func effectiveRole(db *gorm.DB, opID, userID uint) Role {
	var m models.Membership
	err := db.Where("operation_id = ? AND user_id = ?", opID, userID).First(&m).Error
	if err != nil {
		return RoleNone
	}
	return MaxRole(Role(m.Role), Role(m.InheritedRole))
}

// EffectiveRole returns max(explicit, inherited) for a user on an operation.
func (s *PermissionService) EffectiveRole(opID, userID uint) Role {
	return effectiveRole(s.db, opID, userID)
}

// AssignRole grants or changes the explicit role of target on an operation.
// The actor needs member management rights and may not grant a role above
// their own. The creator role only moves by explicit transfer from the
// current creator, which demotes them to admin in the same transaction.
func (s *PermissionService) AssignRole(ctx context.Context, opID, targetID uint, role Role, actorID uint) error {
	if !role.Valid() {
		return ErrInvalidTransition
	}

	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return err
	}
	defer release()

	var op models.Operation
	if err := s.db.First(&op, opID).Error; err != nil {
		return ErrOperationNotFound
	}
	if op.Status != models.StatusActive {
		return ErrPermissionDenied
	}

	var target models.User
	if err := s.db.First(&target, targetID).Error; err != nil {
		return ErrUserNotFound
	}

	actorRole := effectiveRole(s.db, opID, actorID)
	if !actorRole.Capabilities().CanManageMembers {
		return ErrPermissionDenied
	}

	var existing models.Membership
	hasRow := s.db.Where("operation_id = ? AND user_id = ?", opID, targetID).First(&existing).Error == nil

	if hasRow && Role(existing.Role) == RoleCreator && actorRole != RoleCreator {
		return ErrPermissionDenied
	}

	if role == RoleCreator {
		if actorRole != RoleCreator || actorID == targetID {
			return ErrPermissionDenied
		}
		if err := s.transferCreator(opID, actorID, targetID); err != nil {
			return err
		}
	} else {
		if role.Rank() > actorRole.Rank() {
			return ErrPermissionDenied
		}
		if hasRow {
			if err := s.db.Model(&models.Membership{}).Where("id = ?", existing.ID).
				Update("role", string(role)).Error; err != nil {
				return err
			}
		} else {
			if err := s.db.Create(&models.Membership{
				OperationID: opID,
				UserID:      targetID,
				Role:        string(role),
			}).Error; err != nil {
				return err
			}
		}
	}

	s.touchActivity(opID)

	newEffective := effectiveRole(s.db, opID, targetID)
	s.hub.UpdateRole(opID, targetID, newEffective)
	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventPermissionUpdated,
		UserID:      targetID,
		Role:        string(newEffective),
		At:          time.Now(),
	})

	uid := actorID
	LogInfo("permission", "assign_role", op.Name+": "+target.Username+" -> "+string(role), &uid, "", nil)

	if op.IsCategoryGroup {
		// release the operation slot before fanning out across the category
		release()
		return s.propagate(ctx, &op, targetID, models.PropagationGrant)
	}
	return nil
}

// transferCreator moves the creator role to target and demotes the previous
// creator to admin.
func (s *PermissionService) transferCreator(opID, fromID, toID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Membership{}).
			Where("operation_id = ? AND user_id = ?", opID, fromID).
			Update("role", string(RoleAdmin)).Error; err != nil {
			return err
		}
		var m models.Membership
		err := tx.Where("operation_id = ? AND user_id = ?", opID, toID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.Membership{
				OperationID: opID,
				UserID:      toID,
				Role:        string(RoleCreator),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&models.Membership{}).Where("id = ?", m.ID).
			Update("role", string(RoleCreator)).Error
	})
}

// RevokeRole removes target's explicit role. The actor must outrank the
// target's explicit role or be the creator; the creator membership itself
// cannot be revoked. An inherited role, if any, survives.
func (s *PermissionService) RevokeRole(ctx context.Context, opID, targetID, actorID uint) error {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return err
	}
	defer release()

	var op models.Operation
	if err := s.db.First(&op, opID).Error; err != nil {
		return ErrOperationNotFound
	}
	if op.Status != models.StatusActive {
		return ErrPermissionDenied
	}

	actorRole := effectiveRole(s.db, opID, actorID)
	if !actorRole.Capabilities().CanManageMembers {
		return ErrPermissionDenied
	}

	var m models.Membership
	if err := s.db.Where("operation_id = ? AND user_id = ?", opID, targetID).First(&m).Error; err != nil {
		return ErrUserNotFound
	}

	explicit := Role(m.Role)
	if explicit == RoleCreator {
		return ErrPermissionDenied
	}
	if actorRole != RoleCreator && explicit.Rank() >= actorRole.Rank() {
		return ErrPermissionDenied
	}

	if m.InheritedRole == "" {
		if err := s.db.Delete(&models.Membership{}, m.ID).Error; err != nil {
			return err
		}
	} else {
		if err := s.db.Model(&models.Membership{}).Where("id = ?", m.ID).
			Update("role", "").Error; err != nil {
			return err
		}
	}

	s.touchActivity(opID)

	newEffective := effectiveRole(s.db, opID, targetID)
	s.hub.UpdateRole(opID, targetID, newEffective)
	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventPermissionUpdated,
		UserID:      targetID,
		Role:        string(newEffective),
		At:          time.Now(),
	})

	uid := actorID
	LogInfo("permission", "revoke_role", op.Name, &uid, "", nil)

	if op.IsCategoryGroup {
		release()
		return s.propagate(ctx, &op, targetID, models.PropagationRevoke)
	}
	return nil
}

// SetCategoryGroup designates an operation as its category's group operation,
// clearing the flag from any previous holder. Inherited grants sourced from
// the previous group are revoked for users not carried over, then the new
// group's membership list is propagated. Requires member management rights
// on the operation.
func (s *PermissionService) SetCategoryGroup(ctx context.Context, opID, actorID uint) error {
	var op models.Operation
	if err := s.db.First(&op, opID).Error; err != nil {
		return ErrOperationNotFound
	}

	actorRole := effectiveRole(s.db, opID, actorID)
	if !actorRole.Capabilities().CanManageMembers {
		return ErrPermissionDenied
	}

	releaseCat, err := s.seq.AcquireCategory(ctx, op.Category)
	if err != nil {
		return err
	}
	var prev models.Operation
	havePrev := s.db.Where("category = ? AND is_category_group = ? AND id != ?",
		op.Category, true, opID).First(&prev).Error == nil
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Operation{}).
			Where("category = ? AND is_category_group = ?", op.Category, true).
			Update("is_category_group", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.Operation{}).Where("id = ?", opID).
			Update("is_category_group", true).Error
	})
	releaseCat()
	if err != nil {
		return err
	}
	op.IsCategoryGroup = true

	uid := actorID
	LogInfo("permission", "set_category_group", op.Category+": "+op.Name, &uid, "", nil)

	var members []models.Membership
	if err := s.db.Where("operation_id = ?", opID).Find(&members).Error; err != nil {
		return err
	}
	carried := make(map[uint]bool, len(members))
	for _, m := range members {
		carried[m.UserID] = true
	}

	var failed []uint
	collect := func(err error) error {
		var gpErr *GroupPropagationError
		if errors.As(err, &gpErr) {
			failed = append(failed, gpErr.Failed...)
			return nil
		}
		return err
	}

	if havePrev {
		var old []models.Membership
		if err := s.db.Where("operation_id = ?", prev.ID).Find(&old).Error; err != nil {
			return err
		}
		for _, m := range old {
			if carried[m.UserID] {
				continue
			}
			if err := s.propagate(ctx, &op, m.UserID, models.PropagationRevoke); err != nil {
				if err = collect(err); err != nil {
					return err
				}
			}
		}
	}

	for _, m := range members {
		if err := s.propagate(ctx, &op, m.UserID, models.PropagationGrant); err != nil {
			if err = collect(err); err != nil {
				return err
			}
		}
	}
	if len(failed) > 0 {
		return &GroupPropagationError{Category: op.Category, Failed: failed}
	}
	return nil
}

// propagate applies one user's group membership change across every other
// operation of the category. The category lock pins the target set; each
// target is updated under its own sequencer slot in its own transaction, so
// one failure neither blocks nor rolls back the others. Failures are recorded
// for the retry sweep and reported as GroupPropagationError.
func (s *PermissionService) propagate(ctx context.Context, group *models.Operation, userID uint, action string) error {
	releaseCat, err := s.seq.AcquireCategory(ctx, group.Category)
	if err != nil {
		return err
	}

	var targets []models.Operation
	err = s.db.Where("category = ? AND id != ? AND is_category_group = ? AND status != ?",
		group.Category, group.ID, false, models.StatusDeleted).
		Find(&targets).Error
	releaseCat()
	if err != nil {
		return err
	}

	var failed []uint
	for _, target := range targets {
		if err := s.applyInheritance(ctx, target.ID, userID, action); err != nil {
			logger.Warn().Err(err).
				Uint("operation_id", target.ID).
				Uint("user_id", userID).
				Str("action", action).
				Msg("group propagation target failed")
			failed = append(failed, target.ID)
			s.recordRetry(group, target.ID, userID, action, err)
		}
	}

	if len(failed) > 0 {
		return &GroupPropagationError{Category: group.Category, Failed: failed}
	}
	return nil
}

// applyInheritance updates a single target operation under its sequencer
// slot: grant upserts inherited_role=collaborator without touching any
// explicit role; revoke clears the inherited role and deletes the row only
// when no independent explicit role remains.
func (s *PermissionService) applyInheritance(ctx context.Context, opID, userID uint, action string) error {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var m models.Membership
		err := tx.Where("operation_id = ? AND user_id = ?", opID, userID).First(&m).Error

		switch action {
		case models.PropagationGrant:
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(&models.Membership{
					OperationID:   opID,
					UserID:        userID,
					InheritedRole: string(RoleCollaborator),
				}).Error
			}
			if err != nil {
				return err
			}
			return tx.Model(&models.Membership{}).Where("id = ?", m.ID).
				Update("inherited_role", string(RoleCollaborator)).Error

		case models.PropagationRevoke:
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if m.Role == "" {
				return tx.Delete(&models.Membership{}, m.ID).Error
			}
			return tx.Model(&models.Membership{}).Where("id = ?", m.ID).
				Update("inherited_role", "").Error
		}
		return errors.New("unknown propagation action: " + action)
	})
	if err != nil {
		return err
	}

	newEffective := effectiveRole(s.db, opID, userID)
	s.hub.UpdateRole(opID, userID, newEffective)
	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventPermissionUpdated,
		UserID:      userID,
		Role:        string(newEffective),
		At:          time.Now(),
	})
	return nil
}

// recordRetry persists a failed fan-out target and hands it to the async
// queue when one is running; the lifecycle sweep picks it up otherwise.
func (s *PermissionService) recordRetry(group *models.Operation, opID, userID uint, action string, cause error) {
	retry := models.PropagationRetry{
		Category:    group.Category,
		GroupOpID:   group.ID,
		OperationID: opID,
		UserID:      userID,
		Action:      action,
		LastError:   cause.Error(),
	}
	if err := s.db.Create(&retry).Error; err != nil {
		logger.Error().Err(err).Msg("failed to record propagation retry")
		return
	}
	if q := GetTaskQueue(); q != nil && q.IsAsync() {
		if err := q.Enqueue(&PropagationTask{RetryID: retry.ID}); err != nil {
			logger.Warn().Err(err).Uint("retry_id", retry.ID).Msg("failed to enqueue propagation retry")
		}
	}
}

// RetryPending re-applies recorded propagation failures, oldest first.
// Returns the number of repaired entries.
func (s *PermissionService) RetryPending(ctx context.Context, limit int) int {
	var pending []models.PropagationRetry
	if err := s.db.Order("created_at ASC").Limit(limit).Find(&pending).Error; err != nil {
		logger.Error().Err(err).Msg("failed to load propagation retries")
		return 0
	}

	repaired := 0
	for _, p := range pending {
		if err := s.RetryOne(ctx, &p); err == nil {
			repaired++
		}
	}
	return repaired
}

// RetryOne re-applies a single recorded failure and deletes it on success.
func (s *PermissionService) RetryOne(ctx context.Context, p *models.PropagationRetry) error {
	// The grant may have been superseded by the user leaving the group since.
	if p.Action == models.PropagationGrant {
		member := s.db.Where("operation_id = ? AND user_id = ?", p.GroupOpID, p.UserID).
			First(&models.Membership{}).Error == nil
		if !member {
			return s.db.Delete(&models.PropagationRetry{}, p.ID).Error
		}
	}

	if err := s.applyInheritance(ctx, p.OperationID, p.UserID, p.Action); err != nil {
		s.db.Model(&models.PropagationRetry{}).Where("id = ?", p.ID).
			Updates(map[string]interface{}{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": err.Error(),
			})
		return err
	}
	return s.db.Delete(&models.PropagationRetry{}, p.ID).Error
}

// RetryByID resolves a queued retry task to its database row. Already-deleted
// rows are not an error: the sweep may have repaired them first.
func (s *PermissionService) RetryByID(ctx context.Context, retryID uint) error {
	var p models.PropagationRetry
	if err := s.db.First(&p, retryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return s.RetryOne(ctx, &p)
}

func (s *PermissionService) touchActivity(opID uint) {
	s.db.Model(&models.Operation{}).Where("id = ?", opID).
		Update("last_activity_at", time.Now())
}
