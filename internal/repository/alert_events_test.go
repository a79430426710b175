package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-contact-trace/internal/models"
)

func testAlertEvent() *models.AlertEvent {
	return &models.AlertEvent{
		EventID:           "4f1f9a8c-0000-0000-0000-000000000001",
		TenantID:          "tenant-1",
		PersonA:           "Alice",
		PersonB:           "Bob",
		MDRParty:          "Alice",
		OtherParty:        "Bob",
		PathogenType:      "MRSA",
		PathogenFactor:    1.2,
		TriggeredAt:       time.Date(2026, 3, 1, 16, 0, 10, 0, time.UTC),
		DurationAtTrigger: 12.5,
		RiskAtTrigger:     0.62,
		VerifiedByBoth:    true,
		TriggerData:       `{"phase":"CONFIRMED"}`,
		SnapshotRefs:      "[]",
	}
}

func TestCreateAlertEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAlertEventsRepository(db, zap.NewNop())
	event := testAlertEvent()

	mock.ExpectExec("INSERT INTO alert_events").
		WithArgs(event.EventID, "tenant-1", "Alice", "Bob", "Alice", "Bob",
			"MRSA", 1.2, event.TriggeredAt, 12.5, 0.62, true,
			event.TriggerData, "[]").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateAlertEvent(event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlertEvent_InsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAlertEventsRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO alert_events").
		WillReturnError(assert.AnError)

	err = repo.CreateAlertEvent(testAlertEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert alert event")
}

func TestGetRecentAlerts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAlertEventsRepository(db, zap.NewNop())
	event := testAlertEvent()
	createdAt := event.TriggeredAt.Add(1 * time.Second)

	rows := sqlmock.NewRows([]string{
		"event_id", "tenant_id", "person_a", "person_b", "mdr_party", "other_party",
		"pathogen_type", "pathogen_factor", "triggered_at", "duration_at_trigger",
		"risk_at_trigger", "verified_by_both", "trigger_data", "snapshot_refs", "created_at",
	}).AddRow(
		event.EventID, event.TenantID, event.PersonA, event.PersonB,
		event.MDRParty, event.OtherParty, event.PathogenType, event.PathogenFactor,
		event.TriggeredAt, event.DurationAtTrigger, event.RiskAtTrigger,
		event.VerifiedByBoth, event.TriggerData, event.SnapshotRefs, createdAt,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("tenant-1", "Alice", "Bob", 10).
		WillReturnRows(rows)

	events, err := repo.GetRecentAlerts("tenant-1", models.NewPairKey("Bob", "Alice"), 10)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.EventID, events[0].EventID)
	assert.Equal(t, "Alice", events[0].MDRParty)
	assert.Equal(t, 1.2, events[0].PathogenFactor)
	assert.Equal(t, createdAt, events[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecentAlerts_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAlertEventsRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT").
		WithArgs("tenant-1", "Alice", "Bob", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "tenant_id", "person_a", "person_b", "mdr_party", "other_party",
			"pathogen_type", "pathogen_factor", "triggered_at", "duration_at_trigger",
			"risk_at_trigger", "verified_by_both", "trigger_data", "snapshot_refs", "created_at",
		}))

	events, err := repo.GetRecentAlerts("tenant-1", models.NewPairKey("Alice", "Bob"), 5)

	require.NoError(t, err)
	assert.Empty(t, events)
}
