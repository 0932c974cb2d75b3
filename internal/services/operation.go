package services

import (
	"context"
	"errors"
	"time"

	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/pkg/logger"
	"gorm.io/gorm"
)

// OperationService owns the durable operation records. Waypoints are mutated
// only through RevisionService, membership only through PermissionService;
// this service handles creation, listing and the lifecycle state machine.
type OperationService struct {
	db  *gorm.DB
	seq *Sequencer
	hub *Hub
}

func NewOperationService(db *gorm.DB, seq *Sequencer, hub *Hub) *OperationService {
	return &OperationService{db: db, seq: seq, hub: hub}
}

type CreateOperationRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type OperationListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	Category string `form:"category"`
}

type OperationListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.Operation `json:"items"`
}

// Create stores a new operation with an active status, the creator's
// membership and revision 1 holding the empty path, all in one transaction.
// If the category already has a group operation, its members join the new
// operation as inherited collaborators right away.
func (s *OperationService) Create(req *CreateOperationRequest, creatorID uint) (*models.Operation, error) {
	var creator models.User
	if err := s.db.First(&creator, creatorID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	category := req.Category
	if category == "" {
		category = "default"
	}

	emptyPath, err := models.EncodeWaypoints(nil)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	op := models.Operation{
		Name:           req.Name,
		Category:       category,
		Description:    req.Description,
		Status:         models.StatusActive,
		Waypoints:      emptyPath,
		HeadRevision:   1,
		CreatedBy:      creatorID,
		LastActivityAt: now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&op).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Membership{
			OperationID: op.ID,
			UserID:      creatorID,
			Role:        string(RoleCreator),
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Revision{
			OperationID: op.ID,
			Number:      1,
			Snapshot:    emptyPath,
			AuthorID:    creatorID,
			Comment:     "operation created",
		}).Error; err != nil {
			return err
		}
		return inheritFromCategoryGroup(tx, &op)
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Uint("operation_id", op.ID).Str("name", op.Name).Str("category", op.Category).Msg("operation created")
	return &op, nil
}

// inheritFromCategoryGroup grants inherited collaborator memberships on a
// freshly created operation from the category's group operation, if any.
func inheritFromCategoryGroup(tx *gorm.DB, op *models.Operation) error {
	if op.IsCategoryGroup {
		return nil
	}
	var group models.Operation
	err := tx.Where("category = ? AND is_category_group = ? AND id != ?", op.Category, true, op.ID).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // categories without a group have no inheritance
	}
	if err != nil {
		return err
	}

	var members []models.Membership
	if err := tx.Where("operation_id = ?", group.ID).Find(&members).Error; err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == op.CreatedBy {
			continue
		}
		if err := tx.Create(&models.Membership{
			OperationID:   op.ID,
			UserID:        m.UserID,
			InheritedRole: string(RoleCollaborator),
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Get returns an operation by id.
func (s *OperationService) Get(id uint) (*models.Operation, error) {
	var op models.Operation
	if err := s.db.First(&op, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOperationNotFound
		}
		return nil, err
	}
	return &op, nil
}

// List returns a page of operations the user is a member of, optionally
// filtered by status and category. Deleted operations only appear when
// requested explicitly.
func (s *OperationService) List(req *OperationListRequest, userID uint) (*OperationListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.Operation{}).
		Joins("JOIN memberships ON memberships.operation_id = operations.id").
		Where("memberships.user_id = ?", userID)

	if req.Status != "" {
		query = query.Where("operations.status = ?", req.Status)
	} else {
		query = query.Where("operations.status != ?", models.StatusDeleted)
	}
	if req.Category != "" {
		query = query.Where("operations.category = ?", req.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.Operation
	if err := query.Order("operations.last_activity_at DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return &OperationListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// Members returns the full membership list of an operation.
func (s *OperationService) Members(opID uint) ([]models.Membership, error) {
	var members []models.Membership
	err := s.db.Where("operation_id = ?", opID).Preload("User").Find(&members).Error
	return members, err
}

// SetStatus performs an explicit lifecycle transition on behalf of an actor.
// Archive and unarchive need the archive capability; reactivation of an
// inactive operation needs at least collaborator; deletion is creator-only
// and terminal.
func (s *OperationService) SetStatus(ctx context.Context, opID uint, to string, actorID uint) error {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return err
	}
	defer release()

	op, err := s.Get(opID)
	if err != nil {
		return err
	}

	role := effectiveRole(s.db, opID, actorID)
	if err := validateTransition(op.Status, to, role); err != nil {
		return err
	}

	updates := map[string]interface{}{"status": to}
	if to == models.StatusActive {
		// reactivation resets the idle clock
		updates["last_activity_at"] = time.Now()
	}
	if err := s.db.Model(&models.Operation{}).Where("id = ?", opID).Updates(updates).Error; err != nil {
		return err
	}

	uid := actorID
	LogInfo("operation", "status_change", op.Name+": "+op.Status+" -> "+to, &uid, "", nil)

	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventStatusChanged,
		Status:      to,
		UserID:      actorID,
		At:          time.Now(),
	})
	return nil
}

// validateTransition enforces the explicit part of the lifecycle machine.
func validateTransition(from, to string, actor Role) error {
	if from == to {
		return ErrInvalidTransition
	}
	switch {
	case to == models.StatusDeleted:
		if !actor.Capabilities().CanDelete {
			return ErrPermissionDenied
		}
		return nil
	case from == models.StatusActive && to == models.StatusArchived,
		from == models.StatusArchived && to == models.StatusActive:
		if !actor.Capabilities().CanArchive {
			return ErrPermissionDenied
		}
		return nil
	case from == models.StatusInactive && to == models.StatusActive:
		if !actor.AtLeast(RoleCollaborator) {
			return ErrPermissionDenied
		}
		return nil
	}
	return ErrInvalidTransition
}

// demoteIdle moves an active operation to inactive without actor checks. Only
// the lifecycle sweep calls this; deletion is never automatic.
func (s *OperationService) demoteIdle(ctx context.Context, opID uint) error {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return err
	}
	defer release()

	op, err := s.Get(opID)
	if err != nil {
		return err
	}
	if op.Status != models.StatusActive {
		return nil
	}

	if err := s.db.Model(&models.Operation{}).Where("id = ?", opID).
		Update("status", models.StatusInactive).Error; err != nil {
		return err
	}

	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventStatusChanged,
		Status:      models.StatusInactive,
		At:          time.Now(),
	})
	return nil
}
