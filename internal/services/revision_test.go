package services

import (
	"context"
	"errors"
	"testing"

	"github.com/flightops/opsync/internal/models"
)

func TestCommit_AppendsContiguousNumbers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	rev, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints:        testPath(),
		Comment:          "initial route",
	}, alice.ID)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if rev.Number != 2 {
		t.Errorf("revision number = %d, expected 2", rev.Number)
	}

	path := append(testPath(), models.Waypoint{Lat: 69.65, Lon: 18.95, FlightLevel: 300})
	rev, err = env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 2,
		Waypoints:        path,
	}, alice.ID)
	if err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	if rev.Number != 3 {
		t.Errorf("revision number = %d, expected 3", rev.Number)
	}

	resp, err := env.revisions.List(op.ID, &RevisionListRequest{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if resp.Total != 3 {
		t.Fatalf("expected 3 revisions, got %d", resp.Total)
	}
	for i, item := range resp.Items {
		if item.Number != uint(i+1) {
			t.Errorf("revision at position %d has number %d, history must be contiguous oldest first", i, item.Number)
		}
	}

	op2, _ := env.operations.Get(op.ID)
	if op2.HeadRevision != 3 {
		t.Errorf("head = %d, expected 3", op2.HeadRevision)
	}
	current, _ := op2.CurrentWaypoints()
	if len(current) != 3 {
		t.Errorf("current path has %d waypoints, expected 3", len(current))
	}
}

func TestCommit_StaleBaselineRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)
	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleCollaborator, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if _, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints:        testPath(),
	}, alice.ID); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	// bob proposes against the head he saw before alice committed
	_, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints:        testPath(),
	}, bob.ID)
	if !errors.Is(err, ErrStaleRevision) {
		t.Errorf("expected ErrStaleRevision, got %v", err)
	}

	op2, _ := env.operations.Get(op.ID)
	if op2.HeadRevision != 2 {
		t.Errorf("rejected commit must not move the head, head = %d", op2.HeadRevision)
	}
}

func TestCommit_WaypointValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	var wpErr *InvalidWaypointError

	_, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints:        []models.Waypoint{{Lat: 67.82, Lon: 20.33}},
	}, alice.ID)
	if !errors.As(err, &wpErr) {
		t.Errorf("single-point path should be rejected, got %v", err)
	}

	_, err = env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints: []models.Waypoint{
			{Lat: 67.82, Lon: 20.33, FlightLevel: 250},
			{Lat: 67.82, Lon: 20.33, FlightLevel: 300}, // same coordinates, different level
		},
	}, alice.ID)
	if !errors.As(err, &wpErr) {
		t.Fatalf("consecutive identical coordinates should be rejected, got %v", err)
	}
	if wpErr.Index != 1 {
		t.Errorf("error index = %d, expected 1", wpErr.Index)
	}

	op2, _ := env.operations.Get(op.ID)
	if op2.HeadRevision != 1 {
		t.Errorf("invalid commit must not move the head, head = %d", op2.HeadRevision)
	}
}

func TestCommit_RequiresEditableOperationAndRole(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)
	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleViewer, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	_, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints:        testPath(),
	}, bob.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("viewer commit should be denied, got %v", err)
	}

	if err := env.operations.SetStatus(context.Background(), op.ID, models.StatusArchived, alice.ID); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	_, err = env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1,
		Waypoints:        testPath(),
	}, alice.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("archived operations are read-only, got %v", err)
	}
}

func TestCheckout_RestoresAsNewHead(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	original := testPath()
	if _, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1, Waypoints: original,
	}, alice.ID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	reworked := append(testPath(), models.Waypoint{Lat: 69.65, Lon: 18.95, FlightLevel: 300})
	if _, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 2, Waypoints: reworked,
	}, alice.ID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	rev, err := env.revisions.Checkout(context.Background(), op.ID, 2, alice.ID)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if rev.Number != 4 {
		t.Errorf("checkout revision number = %d, expected 4", rev.Number)
	}

	wps, _ := rev.SnapshotWaypoints()
	if len(wps) != len(original) {
		t.Errorf("checkout snapshot has %d waypoints, expected %d", len(wps), len(original))
	}

	// nothing in between was destroyed
	if _, err := env.revisions.Get(op.ID, 3); err != nil {
		t.Errorf("revision 3 should survive a checkout: %v", err)
	}
	op2, _ := env.operations.Get(op.ID)
	if op2.HeadRevision != 4 {
		t.Errorf("head = %d, expected 4", op2.HeadRevision)
	}
}

func TestCheckout_InitialEmptyRevision(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	if _, err := env.revisions.Commit(context.Background(), op.ID, &CommitRequest{
		BaselineRevision: 1, Waypoints: testPath(),
	}, alice.ID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// Revision 1 is the empty path every operation starts with. Restoring a
	// persisted snapshot is not subject to the commit-path waypoint checks.
	rev, err := env.revisions.Checkout(context.Background(), op.ID, 1, alice.ID)
	if err != nil {
		t.Fatalf("checkout of initial revision failed: %v", err)
	}
	if rev.Number != 3 {
		t.Errorf("checkout revision number = %d, expected 3", rev.Number)
	}
	wps, _ := rev.SnapshotWaypoints()
	if len(wps) != 0 {
		t.Errorf("checkout snapshot has %d waypoints, expected 0", len(wps))
	}
}

func TestCheckout_UnknownRevision(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)

	_, err := env.revisions.Checkout(context.Background(), op.ID, 99, alice.ID)
	if !errors.Is(err, ErrRevisionNotFound) {
		t.Errorf("expected ErrRevisionNotFound, got %v", err)
	}
}

func TestSetVersionName(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	op := env.createOperation(t, "arctic-survey", "arctic", alice.ID)
	if err := env.permission.AssignRole(context.Background(), op.ID, bob.ID, RoleViewer, alice.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if err := env.revisions.SetVersionName(op.ID, 1, "baseline", bob.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("viewer should not name revisions, got %v", err)
	}

	if err := env.revisions.SetVersionName(op.ID, 1, "baseline", alice.ID); err != nil {
		t.Fatalf("set version name failed: %v", err)
	}
	rev, _ := env.revisions.Get(op.ID, 1)
	if rev.VersionName != "baseline" {
		t.Errorf("version name = %q, expected baseline", rev.VersionName)
	}

	if err := env.revisions.SetVersionName(op.ID, 42, "x", alice.ID); !errors.Is(err, ErrRevisionNotFound) {
		t.Errorf("expected ErrRevisionNotFound, got %v", err)
	}
}
