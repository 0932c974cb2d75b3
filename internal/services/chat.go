package services

import (
	"context"
	"time"

	"github.com/flightops/opsync/internal/models"
	"gorm.io/gorm"
)

// ChatService keeps the append-only per-operation chat, independent of the
// revision log. Posts count as activity for the idle clock.
type ChatService struct {
	db  *gorm.DB
	seq *Sequencer
	hub *Hub
}

func NewChatService(db *gorm.DB, seq *Sequencer, hub *Hub) *ChatService {
	return &ChatService{db: db, seq: seq, hub: hub}
}

type PostMessageRequest struct {
	Text    string `json:"text" binding:"required"`
	ReplyTo *uint  `json:"reply_to"`
}

type ChatListRequest struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

type ChatListResponse struct {
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Items    []models.ChatMessage `json:"items"`
}

// Post appends a chat message and broadcasts it in commit order.
func (s *ChatService) Post(ctx context.Context, opID uint, req *PostMessageRequest, authorID uint) (*models.ChatMessage, error) {
	release, err := s.seq.Acquire(ctx, opID)
	if err != nil {
		return nil, err
	}
	defer release()

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

	if req.ReplyTo != nil {
		var parent models.ChatMessage
		if err := s.db.Where("id = ? AND operation_id = ?", *req.ReplyTo, opID).First(&parent).Error; err != nil {
			return nil, ErrMessageNotFound
		}
	}

	msg := models.ChatMessage{
		OperationID: opID,
		UserID:      authorID,
		Text:        req.Text,
		ReplyTo:     req.ReplyTo,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Operation{}).Where("id = ?", opID).
			Update("last_activity_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}

	s.db.Preload("User").First(&msg, msg.ID)

	s.hub.Publish(opID, Event{
		OperationID: opID,
		Kind:        EventChatMessage,
		UserID:      authorID,
		Message:     &msg,
		At:          time.Now(),
	})
	return &msg, nil
}

// List returns a page of an operation's chat history, oldest first. Requires
// at least viewer.
func (s *ChatService) List(opID uint, req *ChatListRequest, userID uint) (*ChatListResponse, error) {
	if err := s.db.First(&models.Operation{}, opID).Error; err != nil {
		return nil, ErrOperationNotFound
	}
	if !effectiveRole(s.db, opID, userID).AtLeast(RoleViewer) {
		return nil, ErrPermissionDenied
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 200 {
		req.PageSize = 50
	}

	query := s.db.Model(&models.ChatMessage{}).Where("operation_id = ?", opID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.ChatMessage
	if err := query.Order("created_at ASC").
		Preload("User").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return &ChatListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}
