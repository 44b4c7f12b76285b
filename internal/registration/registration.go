// Package registration validates and stores school registrations and their
// contacts.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/store"
	"github.com/faexperts/fawizard/internal/validate"
)

var (
	ErrSchoolExists = errors.New("a school is already registered for this profile")
	ErrForbidden    = errors.New("not allowed to modify this school")
)

// ContactForm is one school contact as submitted by the registration form.
type ContactForm struct {
	FullName    string `json:"fullName" validate:"notblank"`
	Title       string `json:"title" validate:"notblank"`
	Email       string `json:"email" validate:"required,email"`
	OfficePhone string `json:"officePhone" validate:"notblank"`
	CellPhone   string `json:"cellPhone" validate:"notblank"`
}

// SchoolForm is the body of a school registration or update.
type SchoolForm struct {
	FullSchoolName   string       `json:"fullSchoolName" validate:"notblank"`
	ShortSchoolName  string       `json:"shortSchoolName" validate:"notblank"`
	StreetAddress    string       `json:"streetAddress" validate:"notblank"`
	City             string       `json:"city" validate:"notblank"`
	State            string       `json:"state" validate:"notblank"`
	ZipCode          string       `json:"zipCode" validate:"notblank"`
	PrimaryContact   *ContactForm `json:"primaryContact" validate:"required"`
	SecondaryContact *ContactForm `json:"secondaryContact" validate:"required"`
}

func (f *ContactForm) contact(id string) *store.Contact {
	return &store.Contact{
		ID:          id,
		FullName:    strings.TrimSpace(f.FullName),
		Title:       strings.TrimSpace(f.Title),
		Email:       strings.ToLower(strings.TrimSpace(f.Email)),
		OfficePhone: strings.TrimSpace(f.OfficePhone),
		CellPhone:   strings.TrimSpace(f.CellPhone),
	}
}

func (f *SchoolForm) apply(sch *store.School) {
	sch.FullSchoolName = strings.TrimSpace(f.FullSchoolName)
	sch.ShortSchoolName = strings.TrimSpace(f.ShortSchoolName)
	sch.StreetAddress = strings.TrimSpace(f.StreetAddress)
	sch.City = strings.TrimSpace(f.City)
	sch.State = strings.TrimSpace(f.State)
	sch.ZipCode = strings.TrimSpace(f.ZipCode)
	sch.PrimaryContact = f.PrimaryContact.contact(existingID(sch.PrimaryContact))
	sch.SecondaryContact = f.SecondaryContact.contact(existingID(sch.SecondaryContact))
}

func existingID(c *store.Contact) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// Service registers and edits schools.
type Service struct {
	store     store.Store
	validator *validate.Validator
	bus       *feed.Bus
	logger    *slog.Logger
}

// NewService creates a registration service.
func NewService(s store.Store, v *validate.Validator, bus *feed.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:     s,
		validator: v,
		bus:       bus,
		logger:    logger.With("component", "registration"),
	}
}

// Register stores a new school and its two contacts for the profile. A profile
// owns at most one school; a second registration returns ErrSchoolExists.
// Validation failures are returned as *validate.Error.
func (s *Service) Register(ctx context.Context, profileID string, form SchoolForm) (*store.School, error) {
	if err := s.validator.Struct(form); err != nil {
		return nil, err
	}

	n, err := s.store.CountSchoolsByUser(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("count schools: %w", err)
	}
	if n > 0 {
		return nil, ErrSchoolExists
	}

	sch := &store.School{UserID: profileID}
	form.apply(sch)
	if err := s.store.RegisterSchool(ctx, sch); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrSchoolExists
		}
		return nil, fmt.Errorf("register school: %w", err)
	}

	s.logger.Info("school registered", "school_id", sch.ID, "profile_id", profileID)
	s.bus.PublishType(feed.SchoolRegistered, map[string]string{
		"school_id":        sch.ID,
		"profile_id":       profileID,
		"full_school_name": sch.FullSchoolName,
	})
	return sch, nil
}

// Update rewrites a school and both contacts. Only the owner or an admin may
// update; contacts keep their ids so references stay intact.
func (s *Service) Update(ctx context.Context, caller *store.Profile, schoolID string, form SchoolForm) (*store.School, error) {
	if err := s.validator.Struct(form); err != nil {
		return nil, err
	}

	sch, err := s.store.GetSchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("get school: %w", err)
	}
	if sch == nil {
		return nil, store.ErrNotFound
	}
	if caller == nil || (sch.UserID != caller.ID && !caller.IsAdmin) {
		return nil, ErrForbidden
	}

	form.apply(sch)
	if err := s.store.UpdateSchool(ctx, sch); err != nil {
		return nil, fmt.Errorf("update school %s: %w", schoolID, err)
	}

	s.logger.Info("school updated", "school_id", sch.ID, "by", caller.ID)
	s.bus.PublishType(feed.SchoolUpdated, map[string]string{
		"school_id":  sch.ID,
		"profile_id": sch.UserID,
		"updated_by": caller.ID,
	})
	return sch, nil
}

// ListForProfile returns the profile's schools with their contacts.
func (s *Service) ListForProfile(ctx context.Context, profileID string) ([]store.School, error) {
	schools, err := s.store.ListSchoolsByUser(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	if schools == nil {
		schools = []store.School{}
	}
	return schools, nil
}

// UpdateContact edits a single contact in place.
func (s *Service) UpdateContact(ctx context.Context, id string, form ContactForm) (*store.Contact, error) {
	if err := s.validator.Struct(form); err != nil {
		return nil, err
	}
	c := form.contact(id)
	if err := s.store.UpdateContact(ctx, c); err != nil {
		return nil, fmt.Errorf("update contact %s: %w", id, err)
	}
	return c, nil
}

// DeleteContact removes a contact; schools that referenced it keep an empty slot.
func (s *Service) DeleteContact(ctx context.Context, id, by string) error {
	if err := s.store.DeleteContact(ctx, id); err != nil {
		return fmt.Errorf("delete contact %s: %w", id, err)
	}
	s.logger.Info("contact deleted", "contact_id", id, "by", by)
	s.bus.PublishType(feed.ContactDeleted, map[string]string{"contact_id": id, "deleted_by": by})
	return nil
}
