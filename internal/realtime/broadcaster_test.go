package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/taskflowhq/taskflow/internal/models"
)

// stubStakeholderSource serves canned stakeholder sets keyed by task id.
type stubStakeholderSource struct {
	stakeholders map[string][]string
	tasks        map[string]*models.Task
	err          error
	resolveCalls int
}

func (s *stubStakeholderSource) TaskStakeholders(_ context.Context, task *models.Task) ([]string, error) {
	s.resolveCalls++
	return s.stakeholders[task.ID], s.err
}

func (s *stubStakeholderSource) TaskByID(_ context.Context, id string) (*models.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	return task, nil
}

func receiveEnvelope(t *testing.T, conn *Connection) TaskUpdate {
	t.Helper()

	select {
	case payload := <-conn.send:
		var env TaskUpdate
		require.NoError(t, json.Unmarshal(payload, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("expected an envelope, got none")
		return TaskUpdate{}
	}
}

func requireNoEnvelope(t *testing.T, conn *Connection) {
	t.Helper()

	select {
	case payload := <-conn.send:
		t.Fatalf("unexpected envelope: %s", payload)
	default:
	}
}

func newBroadcastFixture(source *stubStakeholderSource) (*Registry, *Broadcaster) {
	registry := NewRegistry(&stubTeamSource{})
	clock := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return registry, NewBroadcaster(registry, source, WithBroadcastClock(clock))
}

func TestDeliverFansOutToAllConnections(t *testing.T) {
	registry, broadcaster := newBroadcastFixture(&stubStakeholderSource{})

	first := newTestConn("user-a")
	second := &Connection{id: "conn-2", userID: "user-a", send: make(chan []byte, 8)}
	other := newTestConn("user-b")
	registry.Register(context.Background(), "user-a", first)
	registry.Register(context.Background(), "user-a", second)
	registry.Register(context.Background(), "user-b", other)

	env := NewTaskUpdate(ActionCreated, TaskRef{ID: "task-1"}, "user-actor", time.Now())
	broadcaster.Deliver(env, map[string]struct{}{"user-a": {}, "user-b": {}})

	require.Equal(t, TypeTaskUpdate, receiveEnvelope(t, first).Type)
	require.Equal(t, TypeTaskUpdate, receiveEnvelope(t, second).Type)
	require.Equal(t, TypeTaskUpdate, receiveEnvelope(t, other).Type)
}

func TestDeliverSkipsOfflineRecipients(t *testing.T) {
	registry, broadcaster := newBroadcastFixture(&stubStakeholderSource{})

	online := newTestConn("user-a")
	registry.Register(context.Background(), "user-a", online)

	env := NewTaskUpdate(ActionUpdated, TaskRef{ID: "task-1"}, "user-actor", time.Now())
	broadcaster.Deliver(env, map[string]struct{}{"user-a": {}, "user-offline": {}})

	receiveEnvelope(t, online)
}

func TestDeliverKillsBackpressuredConnection(t *testing.T) {
	registry, broadcaster := newBroadcastFixture(&stubStakeholderSource{})
	hub := NewHub(registry, broadcaster, nil)

	server, client := newSocketPair(t)
	defer client.Close()

	stalled := newConnection(hub, server, "user-a", 1)
	healthy := newTestConn("user-b")
	registry.Register(context.Background(), "user-a", stalled)
	registry.Register(context.Background(), "user-b", healthy)

	// Fill the queue so the next enqueue is rejected.
	require.True(t, stalled.enqueue([]byte(`{}`)))

	env := NewTaskUpdate(ActionUpdated, TaskRef{ID: "task-1"}, "user-actor", time.Now())
	broadcaster.Deliver(env, map[string]struct{}{"user-a": {}, "user-b": {}})

	require.False(t, registry.IsOnline("user-a"))
	receiveEnvelope(t, healthy)
}

func TestBroadcastTaskEventExcludesActor(t *testing.T) {
	task := &models.Task{
		BaseModel: models.BaseModel{ID: "task-1"},
		Title:     "ship release",
		OwnerID:   "user-actor",
	}
	source := &stubStakeholderSource{
		stakeholders: map[string][]string{"task-1": {"user-actor", "user-b", "user-c"}},
	}
	registry, broadcaster := newBroadcastFixture(source)

	actor := newTestConn("user-actor")
	watcherB := newTestConn("user-b")
	watcherC := newTestConn("user-c")
	registry.Register(context.Background(), "user-actor", actor)
	registry.Register(context.Background(), "user-b", watcherB)
	registry.Register(context.Background(), "user-c", watcherC)

	broadcaster.BroadcastTaskEvent(context.Background(), task, ActionUpdated, "user-actor")

	requireNoEnvelope(t, actor)

	env := receiveEnvelope(t, watcherB)
	require.Equal(t, TypeTaskUpdate, env.Type)
	require.Equal(t, ActionUpdated, env.Action)
	require.Equal(t, "user-actor", env.UserID)
	receiveEnvelope(t, watcherC)
}

func TestBroadcastTaskEventActorOnlyStakeholder(t *testing.T) {
	task := &models.Task{BaseModel: models.BaseModel{ID: "task-1"}, OwnerID: "user-actor"}
	source := &stubStakeholderSource{
		stakeholders: map[string][]string{"task-1": {"user-actor"}},
	}
	registry, broadcaster := newBroadcastFixture(source)

	actor := newTestConn("user-actor")
	registry.Register(context.Background(), "user-actor", actor)

	broadcaster.BroadcastTaskEvent(context.Background(), task, ActionCreated, "user-actor")
	requireNoEnvelope(t, actor)
}

func TestBroadcastTaskEventResolvesFreshPerEvent(t *testing.T) {
	task := &models.Task{BaseModel: models.BaseModel{ID: "task-1"}, OwnerID: "user-owner"}
	source := &stubStakeholderSource{
		stakeholders: map[string][]string{"task-1": {"user-b"}},
	}
	registry, broadcaster := newBroadcastFixture(source)

	watcherB := newTestConn("user-b")
	watcherC := newTestConn("user-c")
	registry.Register(context.Background(), "user-b", watcherB)
	registry.Register(context.Background(), "user-c", watcherC)

	broadcaster.BroadcastTaskEvent(context.Background(), task, ActionUpdated, "user-actor")
	receiveEnvelope(t, watcherB)
	requireNoEnvelope(t, watcherC)

	// The audience changes between events; the next broadcast sees it.
	source.stakeholders["task-1"] = []string{"user-b", "user-c"}

	broadcaster.BroadcastTaskEvent(context.Background(), task, ActionUpdated, "user-actor")
	receiveEnvelope(t, watcherB)
	receiveEnvelope(t, watcherC)
	require.Equal(t, 2, source.resolveCalls)
}

func TestBroadcastTaskEventDegradedResolution(t *testing.T) {
	task := &models.Task{BaseModel: models.BaseModel{ID: "task-1"}, OwnerID: "user-owner"}
	source := &stubStakeholderSource{
		stakeholders: map[string][]string{"task-1": {"user-b"}},
		err:          errors.New("store down"),
	}
	registry, broadcaster := newBroadcastFixture(source)

	watcherB := newTestConn("user-b")
	registry.Register(context.Background(), "user-b", watcherB)

	// Delivery proceeds with the partial set.
	broadcaster.BroadcastTaskEvent(context.Background(), task, ActionUpdated, "user-actor")
	receiveEnvelope(t, watcherB)
}

func TestBroadcastTaskEventDeletedCarriesSnapshot(t *testing.T) {
	task := &models.Task{
		BaseModel:     models.BaseModel{ID: "task-1"},
		Title:         "retired task",
		OwnerID:       "user-owner",
		AssignedUsers: datatypes.NewJSONSlice([]string{"user-b"}),
	}
	source := &stubStakeholderSource{
		stakeholders: map[string][]string{"task-1": {"user-b"}},
	}
	registry, broadcaster := newBroadcastFixture(source)

	watcherB := newTestConn("user-b")
	registry.Register(context.Background(), "user-b", watcherB)

	broadcaster.BroadcastTaskEvent(context.Background(), task, ActionDeleted, "user-owner")

	env := receiveEnvelope(t, watcherB)
	require.Equal(t, ActionDeleted, env.Action)
	snapshot, ok := env.Task.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "task-1", snapshot["id"])
	require.Equal(t, "retired task", snapshot["title"])
}

func TestBroadcastTyping(t *testing.T) {
	task := &models.Task{BaseModel: models.BaseModel{ID: "task-1"}, Title: "draft notes", OwnerID: "user-owner"}
	source := &stubStakeholderSource{
		stakeholders: map[string][]string{"task-1": {"user-owner", "user-b"}},
		tasks:        map[string]*models.Task{"task-1": task},
	}
	registry, broadcaster := newBroadcastFixture(source)

	owner := newTestConn("user-owner")
	watcherB := newTestConn("user-b")
	registry.Register(context.Background(), "user-owner", owner)
	registry.Register(context.Background(), "user-b", watcherB)

	broadcaster.BroadcastTyping(context.Background(), "task-1", "user-owner")

	requireNoEnvelope(t, owner)

	env := receiveEnvelope(t, watcherB)
	require.Equal(t, ActionUserTyping, env.Action)
	require.Equal(t, "user-owner", env.UserID)
	ref, ok := env.Task.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "task-1", ref["id"])
	require.Equal(t, "draft notes", ref["title"])
}

func TestBroadcastTypingUnknownTask(t *testing.T) {
	source := &stubStakeholderSource{tasks: map[string]*models.Task{}}
	registry, broadcaster := newBroadcastFixture(source)

	watcher := newTestConn("user-b")
	registry.Register(context.Background(), "user-b", watcher)

	broadcaster.BroadcastTyping(context.Background(), "task-missing", "user-owner")
	requireNoEnvelope(t, watcher)
}

func TestRecipientSet(t *testing.T) {
	set := recipientSet([]string{"user-a", "user-b", "user-a", "", "user-actor"}, "user-actor")
	require.Len(t, set, 2)
	require.Contains(t, set, "user-a")
	require.Contains(t, set, "user-b")
}
