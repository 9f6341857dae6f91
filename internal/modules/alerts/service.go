package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service is the alert CRUD surface behind the HTTP handlers.
type Service struct {
	repo      *Repository
	validator *Validator
	log       zerolog.Logger
}

// NewService creates the alerts service.
func NewService(repo *Repository, validator *Validator, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		log:       log.With().Str("service", "alerts").Logger(),
	}
}

// CreateAlert validates and persists a new alert. Channels default to
// in-app and a zero cooldown defaults to 24 hours.
func (s *Service) CreateAlert(a *Alert) error {
	if len(a.Channels) == 0 {
		a.Channels = []string{ChannelInApp}
	}
	if a.CooldownHours == 0 {
		a.CooldownHours = 24
	}
	if err := s.validator.ValidateAlert(a); err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = "al_" + uuid.New().String()
	}
	now := time.Now().Unix()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Active = true

	if err := s.repo.CreateAlert(a); err != nil {
		return err
	}
	s.log.Info().
		Str("alert", a.ID).
		Str("type", a.Condition.Type).
		Str("subject", a.Condition.Subject()).
		Msg("Alert created")
	return nil
}

// GetAlert returns one alert, or nil when unknown.
func (s *Service) GetAlert(id string) (*Alert, error) {
	return s.repo.GetAlert(id)
}

// ListAlerts returns a user's alerts, newest first.
func (s *Service) ListAlerts(userID string) ([]Alert, error) {
	return s.repo.ListByUser(userID)
}

// DeleteAlert removes an alert definition.
func (s *Service) DeleteAlert(id string) error {
	if err := s.repo.DeleteAlert(id); err != nil {
		return err
	}
	s.log.Info().Str("alert", id).Msg("Alert deleted")
	return nil
}

// Notifications returns a user's in-app notifications, newest first.
func (s *Service) Notifications(userID string, limit int) ([]Notification, error) {
	return s.repo.ListNotifications(userID, limit)
}
