package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/pkg/logger"
	"gorm.io/gorm"
)

// RevisionService keeps the append-only version log of every operation.
// Revision numbers are contiguous per operation starting at 1 and a revision
// never changes once written.
type RevisionService struct {
	db  *gorm.DB
	seq *Sequencer
	hub *Hub
}

func NewRevisionService(db *gorm.DB, seq *Sequencer, hub *Hub) *RevisionService {
	return &RevisionService{db: db, seq: seq, hub: hub}
}

type CommitRequest struct {
	BaselineRevision uint              `json:"baseline_revision" binding:"required"`
	Waypoints        []models.Waypoint `json:"waypoints" binding:"required"`
	Comment          string            `json:"comment"`
}

type RevisionListRequest struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

type RevisionListResponse struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []models.Revision `json:"items"`
}

// validateWaypoints guards the crash class in downstream plotting: a path
// needs at least two points and no two consecutive points may share
// coordinates.
func validateWaypoints(wps []models.Waypoint) error {
	if len(wps) < 2 {
		return &InvalidWaypointError{Index: len(wps), Reason: "path needs at least 2 waypoints"}
	}
	for i := 1; i < len(wps); i++ {
		if wps[i].Lat == wps[i-1].Lat && wps[i].Lon == wps[i-1].Lon {
			return &InvalidWaypointError{Index: i, Reason: "consecutive waypoints share identical coordinates"}
		}
	}
	return nil
}

// Commit appends a new head revision under optimistic concurrency control:
// the baseline must equal the current head, otherwise the caller gets
// ErrStaleRevision and nothing changes. The commit is durably stored before
// the update event is enqueued, and the event is enqueued before the
// sequencer slot is released so every subscriber observes commits in order.
func (s *RevisionService) Commit(ctx context.Context, opID uint, req *CommitRequest, authorID uint) (*models.Revision, error) {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := validateWaypoints(req.Waypoints); err != nil {
		return nil, err
	}
	return s.commitLocked(opID, req.BaselineRevision, req.Waypoints, authorID, req.Comment)
}

// commitLocked performs the actual append. Callers hold the operation's
// sequencer slot and have validated caller-supplied paths; snapshots that
// are already persisted (checkout) are appended as-is.
func (s *RevisionService) commitLocked(opID, baseline uint, wps []models.Waypoint, authorID uint, comment string) (*models.Revision, error) {
	var op models.Operation
	if err := s.db.First(&op, opID).Error; err != nil {
		return nil, ErrOperationNotFound
	}
	if op.Status != models.StatusActive {
		return nil, ErrPermissionDenied
	}
	if !effectiveRole(s.db, opID, authorID).Capabilities().CanEdit {
		return nil, ErrPermissionDenied
	}
	if baseline != op.HeadRevision {
		return nil, ErrStaleRevision
	}

	snapshot, err := models.EncodeWaypoints(wps)
	if err != nil {
		return nil, err
	}

	rev := models.Revision{
		OperationID: opID,
		Number:      op.HeadRevision + 1,
		Snapshot:    snapshot,
		AuthorID:    authorID,
		Comment:     comment,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rev).Error; err != nil {
			return err
		}
		return tx.Model(&models.Operation{}).Where("id = ?", opID).
			Updates(map[string]interface{}{
				"waypoints":        snapshot,
				"head_revision":    rev.Number,
				"last_activity_at": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Debug().Uint("operation_id", opID).Uint("revision", rev.Number).Msg("revision committed")

	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventWaypointsUpdated,
		Revision:    rev.Number,
		UserID:      authorID,
		At:          time.Now(),
	})
	return &rev, nil
}

// Checkout restores an old revision non-destructively: it appends a new head
// whose waypoints equal the chosen snapshot, so history only ever grows and
// no revision is lost. Requires at least collaborator.
func (s *RevisionService) Checkout(ctx context.Context, opID, number uint, actorID uint) (*models.Revision, error) {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return nil, err
	}
	defer release()

	var op models.Operation
	if err := s.db.First(&op, opID).Error; err != nil {
		return nil, ErrOperationNotFound
	}

	var rev models.Revision
	err = s.db.Where("operation_id = ? AND number = ?", opID, number).First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRevisionNotFound
	}
	if err != nil {
		return nil, err
	}

	wps, err := rev.SnapshotWaypoints()
	if err != nil {
		return nil, err
	}

	comment := fmt.Sprintf("checkout of revision %d", number)
	return s.commitLocked(opID, op.HeadRevision, wps, actorID, comment)
}

// List returns a page of an operation's revisions, oldest first.
func (s *RevisionService) List(opID uint, req *RevisionListRequest) (*RevisionListResponse, error) {
	if err := s.db.First(&models.Operation{}, opID).Error; err != nil {
		return nil, ErrOperationNotFound
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 50
	}

	query := s.db.Model(&models.Revision{}).Where("operation_id = ?", opID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.Revision
	if err := query.Order("number ASC").
		Preload("Author").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return &RevisionListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// Get returns one revision including its waypoint snapshot.
func (s *RevisionService) Get(opID, number uint) (*models.Revision, error) {
	var rev models.Revision
	err := s.db.Where("operation_id = ? AND number = ?", opID, number).
		Preload("Author").First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRevisionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// SetVersionName labels an existing revision. The snapshot itself stays
// untouched. Requires at least collaborator.
func (s *RevisionService) SetVersionName(opID, number uint, name string, actorID uint) error {
	if !effectiveRole(s.db, opID, actorID).AtLeast(RoleCollaborator) {
		return ErrPermissionDenied
	}

	res := s.db.Model(&models.Revision{}).
		Where("operation_id = ? AND number = ?", opID, number).
		Update("version_name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRevisionNotFound
	}
	return nil
}
