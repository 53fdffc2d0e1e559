package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-service/config"
	"restaurant-service/internal/models"
)

func testPolicy() config.BusinessConfig {
	return config.BusinessConfig{
		OpeningHour:       10,
		ClosingHour:       22,
		SeatingMinutes:    120,
		MaxPartySize:      50,
		ReasonMaxLen:      500,
		SummaryMaxLen:     200,
		NoteMaxLen:        500,
		MinAuditReasonLen: 10,
	}
}

// The clock is pinned so "today" and "in the past" are deterministic.
var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newReservationEnv() (*ReservationService, *fakeReservationStore, *fakePublisher) {
	tables := newFakeTableStore(
		models.Table{Number: 3, Capacity: 4, Status: models.TableStatusAvailable},
		models.Table{Number: 7, Capacity: 8, Status: models.TableStatusAvailable},
	)
	reservations := newFakeReservationStore()
	publisher := &fakePublisher{}
	svc := NewReservationService(tables, reservations, publisher, testPolicy())
	svc.now = func() time.Time { return testNow }
	return svc, reservations, publisher
}

func bookingRequest(table int, date, start string, partySize int) *CreateReservationRequest {
	return &CreateReservationRequest{
		TableNumber:   table,
		RequesterID:   "guest-1",
		RequesterName: "Dana",
		Date:          date,
		StartTime:     start,
		PartySize:     partySize,
	}
}

func TestCreateReservation(t *testing.T) {
	svc, _, publisher := newReservationEnv()
	ctx := context.Background()

	reservation, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	assert.Equal(t, models.ReservationStatusPending, reservation.Status)
	assert.Equal(t, 3, reservation.TableNumber)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), reservation.StartTime)
	assert.Equal(t, time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC), reservation.EndTime)
	assert.NotZero(t, reservation.ID)

	require.Len(t, publisher.reservationsCreated, 1)
	assert.Equal(t, reservation.ID, publisher.reservationsCreated[0].ReservationID)
}

func TestCreateReservationConflictNamesWindow(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	_, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	_, err = svc.Create(ctx, bookingRequest(3, "2025-06-01", "15:00", 2))
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), conflict.ConflictStart)
	assert.Equal(t, time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC), conflict.ConflictEnd)
	assert.Contains(t, conflict.Error(), "14:00")
	assert.Contains(t, conflict.Error(), "16:00")
}

func TestCreateReservationBackToBackAllowed(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	_, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	// Touching endpoints never conflict.
	_, err = svc.Create(ctx, bookingRequest(3, "2025-06-01", "16:00", 2))
	assert.NoError(t, err)
	_, err = svc.Create(ctx, bookingRequest(3, "2025-06-01", "12:00", 2))
	assert.NoError(t, err)
}

func TestCreateReservationOtherTableUnaffected(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	_, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	_, err = svc.Create(ctx, bookingRequest(7, "2025-06-01", "14:00", 4))
	assert.NoError(t, err)

	// Same table, same time, different date.
	_, err = svc.Create(ctx, bookingRequest(3, "2025-06-02", "14:00", 4))
	assert.NoError(t, err)
}

func TestCheckAvailableRejections(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	cases := []struct {
		name  string
		table int
		date  string
		start string
		party int
		field string
	}{
		{"past date", 3, "2025-04-30", "14:00", 2, "date"},
		{"earlier today", 3, "2025-05-01", "11:00", 2, "start_time"},
		{"before opening", 3, "2025-06-01", "09:00", 2, "start_time"},
		{"after last seating", 3, "2025-06-01", "20:30", 2, "start_time"},
		{"party size zero", 3, "2025-06-01", "14:00", 0, "party_size"},
		{"party size over max", 7, "2025-06-01", "14:00", 51, "party_size"},
		{"party over capacity", 3, "2025-06-01", "14:00", 5, "party_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			date, err := parseDate(tc.date)
			require.NoError(t, err)
			start, err := parseStartTime(date, tc.start)
			require.NoError(t, err)

			err = svc.CheckAvailable(ctx, tc.table, date, start, tc.party)
			var validation *models.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tc.field, validation.Field)
		})
	}
}

func TestCheckAvailableLastSeatingBoundary(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	date, _ := parseDate("2025-06-01")

	// 20:00 is the last admissible start with a 2h seating before 22:00.
	start, _ := parseStartTime(date, "20:00")
	assert.NoError(t, svc.CheckAvailable(ctx, 3, date, start, 2))

	start, _ = parseStartTime(date, "10:00")
	assert.NoError(t, svc.CheckAvailable(ctx, 3, date, start, 2))
}

func TestCheckAvailableUnknownTable(t *testing.T) {
	svc, _, _ := newReservationEnv()
	date, _ := parseDate("2025-06-01")
	start, _ := parseStartTime(date, "14:00")

	err := svc.CheckAvailable(context.Background(), 99, date, start, 2)
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCheckAvailableOverlapSweep(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	_, err := svc.Create(ctx, bookingRequest(7, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	date, _ := parseDate("2025-06-01")
	for hour := 10; hour <= 20; hour++ {
		start := time.Date(2025, 6, 1, hour, 0, 0, 0, time.UTC)
		end := start.Add(2 * time.Hour)
		wantConflict := start.Before(time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC)) &&
			end.After(time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC))

		err := svc.CheckAvailable(ctx, 7, date, start, 2)
		if wantConflict {
			var conflict *models.ConflictError
			assert.ErrorAs(t, err, &conflict, "start %02d:00 should conflict", hour)
		} else {
			assert.NoError(t, err, "start %02d:00 should be free", hour)
		}
	}
}

func TestCreateReservationValidation(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	req := bookingRequest(3, "2025-06-01", "14:00", 2)
	req.RequesterID = ""
	_, err := svc.Create(ctx, req)
	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "requester_id", validation.Field)

	req = bookingRequest(3, "06/01/2025", "14:00", 2)
	_, err = svc.Create(ctx, req)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "date", validation.Field)

	req = bookingRequest(3, "2025-06-01", "2pm", 2)
	_, err = svc.Create(ctx, req)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "start_time", validation.Field)
}

func TestUpdateReservationStatus(t *testing.T) {
	svc, _, publisher := newReservationEnv()
	ctx := context.Background()

	reservation, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, reservation.ID, models.ReservationStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConfirmed, updated.Status)

	// No-op transition is rejected.
	_, err = svc.UpdateStatus(ctx, reservation.ID, models.ReservationStatusConfirmed)
	var conflict *models.ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = svc.UpdateStatus(ctx, reservation.ID, "SEATED")
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = svc.UpdateStatus(ctx, reservation.ID, models.ReservationStatusCancelled)
	require.NoError(t, err)
	require.Len(t, publisher.reservationsCancelled, 1)
	assert.Equal(t, reservation.ID, publisher.reservationsCancelled[0].ReservationID)

	// Terminal statuses have no outgoing transitions.
	_, err = svc.UpdateStatus(ctx, reservation.ID, models.ReservationStatusActive)
	assert.ErrorAs(t, err, &conflict)
}

func TestCancelledReservationFreesSlot(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	reservation, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, reservation.ID, models.ReservationStatusCancelled)
	require.NoError(t, err)

	_, err = svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 2))
	assert.NoError(t, err)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	reservation, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "14:00", 4))
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(ctx, reservation.ID))

	// Deleted rows drop out of conflict detection.
	date, _ := parseDate("2025-06-01")
	start, _ := parseStartTime(date, "15:00")
	assert.NoError(t, svc.CheckAvailable(ctx, 3, date, start, 2))

	var conflict *models.ConflictError
	err = svc.SoftDelete(ctx, reservation.ID)
	assert.ErrorAs(t, err, &conflict)

	require.NoError(t, svc.Restore(ctx, reservation.ID))
	err = svc.CheckAvailable(ctx, 3, date, start, 2)
	assert.ErrorAs(t, err, &conflict)

	err = svc.Restore(ctx, reservation.ID)
	assert.ErrorAs(t, err, &conflict)

	// The record itself stays readable throughout.
	got, err := svc.Get(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
}

func TestListReservationsQueryModes(t *testing.T) {
	svc, _, _ := newReservationEnv()
	ctx := context.Background()

	first, err := svc.Create(ctx, bookingRequest(3, "2025-06-01", "12:00", 2))
	require.NoError(t, err)
	_, err = svc.Create(ctx, bookingRequest(3, "2025-06-01", "16:00", 2))
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, first.ID))

	active, err := svc.List(ctx, 3, "2025-06-01", "2025-06-01", models.ActiveOnly)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := svc.List(ctx, 3, "2025-06-01", "2025-06-01", models.IncludingDeleted)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.List(ctx, 3, "2025-06-02", "2025-06-01", models.ActiveOnly)
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)
}
