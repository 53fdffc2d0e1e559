package service

import (
	"context"
	"fmt"
	"time"

	"restaurant-service/config"
	"restaurant-service/internal/models"
	"restaurant-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationService owns the booking conflict check and the reservation
// lifecycle.
type ReservationService struct {
	tables       TableStore
	reservations ReservationStore
	publisher    EventPublisher
	policy       config.BusinessConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewReservationService creates a new reservation service
func NewReservationService(
	tables TableStore,
	reservations ReservationStore,
	publisher EventPublisher,
	policy config.BusinessConfig,
) *ReservationService {
	return &ReservationService{
		tables:       tables,
		reservations: reservations,
		publisher:    publisher,
		policy:       policy,
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// CreateReservationRequest represents a booking request
type CreateReservationRequest struct {
	TableNumber   int    `json:"table_number" binding:"required"`
	RequesterID   string `json:"requester_id" binding:"required"`
	RequesterName string `json:"requester_name" binding:"required"`
	Date          string `json:"date" binding:"required"`
	StartTime     string `json:"start_time" binding:"required"`
	PartySize     int    `json:"party_size" binding:"required,min=1"`
	Note          string `json:"note"`
}

// SeatingDuration returns the fixed reservation length.
func (s *ReservationService) SeatingDuration() time.Duration {
	return time.Duration(s.policy.SeatingMinutes) * time.Minute
}

func parseDate(value string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: "date", Message: "must be in YYYY-MM-DD format"}
	}
	return d, nil
}

func parseStartTime(date time.Time, value string) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: "start_time", Message: "must be in HH:MM format"}
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

// CheckAvailable runs the full admissibility check for a booking request.
// It is a pure read: rules are applied in a fixed order and the first
// failure wins. A nil error means the slot is bookable right now; the
// creation path re-checks overlap under the table lock regardless.
func (s *ReservationService) CheckAvailable(ctx context.Context, tableNumber int, date, start time.Time, partySize int) error {
	ctx, span := util.StartSpan(ctx, "ReservationService.CheckAvailable")
	defer span.End()

	table, err := s.tables.GetTable(ctx, tableNumber)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(s.SeatingDuration())

	if date.Before(today) {
		return &models.ValidationError{Field: "date", Message: "must not be in the past"}
	}
	if date.Equal(today) && start.Before(now) {
		return &models.ValidationError{Field: "start_time", Message: "must not be earlier than the current time"}
	}

	opening := time.Date(date.Year(), date.Month(), date.Day(), s.policy.OpeningHour, 0, 0, 0, time.UTC)
	closing := time.Date(date.Year(), date.Month(), date.Day(), s.policy.ClosingHour, 0, 0, 0, time.UTC)
	lastSeating := closing.Add(-s.SeatingDuration())

	if start.Before(opening) {
		return &models.ValidationError{
			Field:   "start_time",
			Message: fmt.Sprintf("before opening time %02d:00", s.policy.OpeningHour),
		}
	}
	if start.After(lastSeating) {
		return &models.ValidationError{
			Field:   "start_time",
			Message: fmt.Sprintf("after last seating %s", lastSeating.Format("15:04")),
		}
	}
	if end.After(closing) {
		return &models.ValidationError{
			Field:   "start_time",
			Message: fmt.Sprintf("seating would end after closing time %02d:00", s.policy.ClosingHour),
		}
	}

	if partySize < 1 || partySize > s.policy.MaxPartySize {
		return &models.ValidationError{
			Field:   "party_size",
			Message: fmt.Sprintf("must be between 1 and %d", s.policy.MaxPartySize),
		}
	}
	if partySize > table.Capacity {
		return &models.ValidationError{
			Field:   "party_size",
			Message: fmt.Sprintf("exceeds table %d capacity of %d", table.Number, table.Capacity),
		}
	}

	existing, err := s.reservations.ListLiveReservations(ctx, tableNumber, date)
	if err != nil {
		return fmt.Errorf("failed to list reservations: %w", err)
	}
	for i := range existing {
		if existing[i].Overlaps(start, end) {
			return &models.ConflictError{
				Message: fmt.Sprintf("table %d is already reserved from %s to %s",
					tableNumber,
					existing[i].StartTime.Format("15:04"),
					existing[i].EndTime.Format("15:04")),
				ConflictStart: existing[i].StartTime,
				ConflictEnd:   existing[i].EndTime,
			}
		}
	}

	return nil
}

// Create validates the request, re-runs the conflict check inside the
// insert transaction and persists the reservation with status PENDING.
func (s *ReservationService) Create(ctx context.Context, req *CreateReservationRequest) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create")
	defer span.End()

	if req.RequesterID == "" {
		return nil, &models.ValidationError{Field: "requester_id", Message: "is required"}
	}
	if len(req.Note) > s.policy.NoteMaxLen {
		return nil, &models.ValidationError{
			Field:   "note",
			Message: fmt.Sprintf("must be at most %d characters", s.policy.NoteMaxLen),
		}
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	start, err := parseStartTime(date, req.StartTime)
	if err != nil {
		return nil, err
	}

	if err := s.CheckAvailable(ctx, req.TableNumber, date, start, req.PartySize); err != nil {
		s.countRejection(err)
		return nil, err
	}

	reservation := &models.Reservation{
		TableNumber:   req.TableNumber,
		RequesterID:   req.RequesterID,
		RequesterName: req.RequesterName,
		Date:          date,
		StartTime:     start,
		EndTime:       start.Add(s.SeatingDuration()),
		PartySize:     req.PartySize,
		Status:        models.ReservationStatusPending,
		Note:          req.Note,
	}

	if err := s.reservations.CreateReservation(ctx, reservation); err != nil {
		s.countRejection(err)
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", reservation.ID),
		zap.Int("table", reservation.TableNumber),
		zap.Time("start", reservation.StartTime))

	event := &models.ReservationCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReservationCreated,
			Timestamp: s.now().UTC(),
		},
		ReservationID: reservation.ID,
		TableNumber:   reservation.TableNumber,
		Date:          reservation.Date.Format("2006-01-02"),
		StartTime:     reservation.StartTime,
		EndTime:       reservation.EndTime,
		PartySize:     reservation.PartySize,
	}
	if err := s.publisher.PublishReservationCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationCreated event", zap.Error(err))
	}

	return reservation, nil
}

func (s *ReservationService) countRejection(err error) {
	switch err.(type) {
	case *models.ConflictError:
		util.ReservationConflictsTotal.Inc()
	case *models.ValidationError:
		util.ReservationsRejectedTotal.WithLabelValues("validation").Inc()
	case *models.NotFoundError:
		util.ReservationsRejectedTotal.WithLabelValues("not_found").Inc()
	}
}

// UpdateStatus moves a reservation to a new lifecycle status. The graph
// is loose compared to orders, but no-op transitions and transitions out
// of a terminal status are rejected.
func (s *ReservationService) UpdateStatus(ctx context.Context, id int64, newStatus string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.UpdateStatus")
	defer span.End()

	if !validReservationStatus(newStatus) {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", newStatus)}
	}

	reservation, err := s.reservations.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if reservation.Status == newStatus {
		return nil, &models.ConflictError{
			Message: fmt.Sprintf("reservation %d is already %s", id, newStatus),
		}
	}
	if models.IsTerminalReservationStatus(reservation.Status) {
		return nil, &models.ConflictError{
			Message: fmt.Sprintf("reservation %d is %s and cannot change status", id, reservation.Status),
		}
	}

	if err := s.reservations.UpdateReservationStatus(ctx, id, newStatus); err != nil {
		return nil, err
	}
	reservation.Status = newStatus

	if newStatus == models.ReservationStatusCancelled {
		event := &models.ReservationCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeReservationCancelled,
				Timestamp: s.now().UTC(),
			},
			ReservationID: reservation.ID,
			TableNumber:   reservation.TableNumber,
		}
		if err := s.publisher.PublishReservationCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish ReservationCancelled event", zap.Error(err))
		}
	}

	return reservation, nil
}

func validReservationStatus(s string) bool {
	switch s {
	case models.ReservationStatusPending,
		models.ReservationStatusConfirmed,
		models.ReservationStatusActive,
		models.ReservationStatusCompleted,
		models.ReservationStatusCancelled:
		return true
	}
	return false
}

// SoftDelete marks a reservation deleted without touching its business
// status. Deleted rows drop out of conflict checks and default listings
// but stay queryable with IncludingDeleted.
func (s *ReservationService) SoftDelete(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "ReservationService.SoftDelete")
	defer span.End()

	reservation, err := s.reservations.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if reservation.DeletedAt != nil {
		return &models.ConflictError{Message: fmt.Sprintf("reservation %d is already deleted", id)}
	}

	deletedAt := s.now().UTC()
	return s.reservations.SetReservationDeleted(ctx, id, &deletedAt)
}

// Restore clears the soft-deletion marker.
func (s *ReservationService) Restore(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "ReservationService.Restore")
	defer span.End()

	reservation, err := s.reservations.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if reservation.DeletedAt == nil {
		return &models.ConflictError{Message: fmt.Sprintf("reservation %d is not deleted", id)}
	}

	return s.reservations.SetReservationDeleted(ctx, id, nil)
}

// Get retrieves one reservation by ID.
func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.reservations.GetReservation(ctx, id)
}

// List retrieves reservations for a table over an inclusive date range.
func (s *ReservationService) List(ctx context.Context, tableNumber int, from, to string, mode models.QueryMode) ([]models.Reservation, error) {
	fromDate, err := parseDate(from)
	if err != nil {
		return nil, &models.ValidationError{Field: "from", Message: "must be in YYYY-MM-DD format"}
	}
	toDate, err := parseDate(to)
	if err != nil {
		return nil, &models.ValidationError{Field: "to", Message: "must be in YYYY-MM-DD format"}
	}
	if toDate.Before(fromDate) {
		return nil, &models.ValidationError{Field: "to", Message: "must not be before from"}
	}

	return s.reservations.ListReservations(ctx, tableNumber, fromDate, toDate, mode)
}
