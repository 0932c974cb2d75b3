package services

import (
	"testing"
	"time"

	"github.com/flightops/opsync/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testEnv wires the services against an in-memory database, one per test.
type testEnv struct {
	db         *gorm.DB
	seq        *Sequencer
	hub        *Hub
	operations *OperationService
	permission *PermissionService
	revisions  *RevisionService
	chat       *ChatService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Operation{},
		&models.Membership{},
		&models.Revision{},
		&models.ChatMessage{},
		&models.PropagationRetry{},
		&models.SystemLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	seq := NewSequencer(time.Second)
	hub := NewHub(16)
	return &testEnv{
		db:         db,
		seq:        seq,
		hub:        hub,
		operations: NewOperationService(db, seq, hub),
		permission: NewPermissionService(db, seq, hub),
		revisions:  NewRevisionService(db, seq, hub),
		chat:       NewChatService(db, seq, hub),
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := models.User{Username: username, Role: "user", IsActive: true}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return &user
}

func (e *testEnv) createOperation(t *testing.T, name, category string, creatorID uint) *models.Operation {
	t.Helper()
	op, err := e.operations.Create(&CreateOperationRequest{Name: name, Category: category}, creatorID)
	if err != nil {
		t.Fatalf("failed to create operation %s: %v", name, err)
	}
	return op
}

func (e *testEnv) membership(t *testing.T, opID, userID uint) *models.Membership {
	t.Helper()
	var m models.Membership
	if err := e.db.Where("operation_id = ? AND user_id = ?", opID, userID).First(&m).Error; err != nil {
		t.Fatalf("no membership for user %d on operation %d: %v", userID, opID, err)
	}
	return &m
}

func testPath() []models.Waypoint {
	return []models.Waypoint{
		{Lat: 67.82, Lon: 20.33, FlightLevel: 250, Comment: "Kiruna"},
		{Lat: 78.25, Lon: 15.47, FlightLevel: 350, Comment: "Longyearbyen"},
	}
}
