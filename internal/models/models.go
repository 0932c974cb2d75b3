package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Operation lifecycle states.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusInactive = "inactive"
	StatusDeleted  = "deleted"
)

// User represents a system user. Authentication backends beyond the local
// password store are external; the engine only consumes the authenticated
// identity.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password  string         `gorm:"size:255" json:"-"` // bcrypt hash, empty for externally authenticated users
	Email     string         `gorm:"size:255" json:"email"`
	Nickname  string         `gorm:"size:100" json:"nickname"`
	Role      string         `gorm:"size:50;default:user" json:"role"` // server-level: admin, user
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Waypoint is one point of a flight path. Stored serialized as part of the
// operation's current path and of every revision snapshot.
type Waypoint struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	FlightLevel float64 `json:"flight_level"`
	Comment     string  `json:"comment,omitempty"`
}

// Operation represents a shared flight-path document.
type Operation struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Category        string    `gorm:"size:255;index;default:default" json:"category"`
	Description     string    `gorm:"size:500" json:"description"`
	Status          string    `gorm:"size:20;index;default:active" json:"status"`
	IsCategoryGroup bool      `gorm:"default:false" json:"is_category_group"` // at most one per category
	Waypoints       string    `gorm:"type:text" json:"-"`                     // current path, JSON
	HeadRevision    uint      `gorm:"default:0" json:"head_revision"`
	CreatedBy       uint      `gorm:"index" json:"created_by"`
	LastActivityAt  time.Time `gorm:"index" json:"last_activity_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CurrentWaypoints decodes the operation's current path.
func (o *Operation) CurrentWaypoints() ([]Waypoint, error) {
	return DecodeWaypoints(o.Waypoints)
}

// Membership binds a user to an operation. Role is the explicitly granted
// role; InheritedRole is derived from the category's group operation. The
// effective role is the higher of the two. A row with both fields empty is
// never persisted.
type Membership struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OperationID   uint      `gorm:"uniqueIndex:idx_op_user;not null" json:"operation_id"`
	UserID        uint      `gorm:"uniqueIndex:idx_op_user;not null" json:"user_id"`
	User          *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role          string    `gorm:"size:50" json:"role"`           // creator, admin, collaborator, viewer, or empty
	InheritedRole string    `gorm:"size:50" json:"inherited_role"` // collaborator or empty
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Revision is one immutable entry of an operation's version log. Numbers are
// contiguous per operation starting at 1.
type Revision struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OperationID uint      `gorm:"uniqueIndex:idx_op_revision;not null" json:"operation_id"`
	Number      uint      `gorm:"uniqueIndex:idx_op_revision;not null" json:"number"`
	Snapshot    string    `gorm:"type:text;not null" json:"-"` // waypoint JSON
	AuthorID    uint      `gorm:"index" json:"author_id"`
	Author      *User     `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Comment     string    `gorm:"size:255" json:"comment,omitempty"`
	VersionName string    `gorm:"size:255" json:"version_name,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// SnapshotWaypoints decodes the revision snapshot.
func (r *Revision) SnapshotWaypoints() ([]Waypoint, error) {
	return DecodeWaypoints(r.Snapshot)
}

// ChatMessage is an append-only operation chat entry, independent of the
// revision log.
type ChatMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OperationID uint      `gorm:"index;not null" json:"operation_id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	ReplyTo     *uint     `json:"reply_to,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// Propagation retry actions.
const (
	PropagationGrant  = "grant"
	PropagationRevoke = "revoke"
)

// PropagationRetry records a failed group-inheritance update for a single
// target operation, to be repaired by the lifecycle sweep or the async worker.
type PropagationRetry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Category    string    `gorm:"size:255;index;not null" json:"category"`
	GroupOpID   uint      `gorm:"not null" json:"group_op_id"`
	OperationID uint      `gorm:"index;not null" json:"operation_id"`
	UserID      uint      `gorm:"not null" json:"user_id"`
	Action      string    `gorm:"size:20;not null" json:"action"` // grant, revoke
	Attempts    int       `gorm:"default:0" json:"attempts"`
	LastError   string    `gorm:"size:500" json:"last_error"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SystemLog represents a system operation log
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"` // info, warning, error
	Module    string    `gorm:"size:100;index" json:"module"`
	Action    string    `gorm:"size:200;index" json:"action"`
	Message   string    `gorm:"type:text" json:"message"`
	UserID    *uint     `json:"user_id"`
	IP        string    `gorm:"size:50" json:"ip"`
	Extra     string    `gorm:"type:text" json:"extra"` // JSON extra data
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides
func (User) TableName() string             { return "users" }
func (Operation) TableName() string        { return "operations" }
func (Membership) TableName() string       { return "memberships" }
func (Revision) TableName() string         { return "revisions" }
func (ChatMessage) TableName() string      { return "chat_messages" }
func (PropagationRetry) TableName() string { return "propagation_retries" }
func (SystemLog) TableName() string        { return "system_logs" }

// EncodeWaypoints serializes a path for storage. A nil slice encodes as an
// empty path.
func EncodeWaypoints(wps []Waypoint) (string, error) {
	if wps == nil {
		wps = []Waypoint{}
	}
	data, err := json.Marshal(wps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeWaypoints deserializes a stored path.
func DecodeWaypoints(data string) ([]Waypoint, error) {
	if data == "" {
		return []Waypoint{}, nil
	}
	var wps []Waypoint
	if err := json.Unmarshal([]byte(data), &wps); err != nil {
		return nil, err
	}
	return wps, nil
}
