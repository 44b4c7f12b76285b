// Package store defines the storage interface and provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by updates and deletes that match no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("already exists")
)

// Store is the persistence interface. Lookups return (nil, nil) when no row matches.
type Store interface {
	// Profiles
	CreateProfile(ctx context.Context, p *Profile) error
	UpsertProfileLogin(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)
	GetProfileByCustomerID(ctx context.Context, customerID string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]ProfileSummary, error)
	SetProfileAdmin(ctx context.Context, id string, isAdmin bool) error
	UpdateProfileBilling(ctx context.Context, id, customerID, priceID string, subscribed bool) error
	SetSubscribedByCustomer(ctx context.Context, customerID string, subscribed bool) (int64, error)

	// Schools and contacts
	RegisterSchool(ctx context.Context, school *School) error
	UpdateSchool(ctx context.Context, school *School) error
	GetSchool(ctx context.Context, id string) (*School, error)
	ListSchoolsByUser(ctx context.Context, userID string) ([]School, error)
	ListSchools(ctx context.Context) ([]School, error)
	CountSchoolsByUser(ctx context.Context, userID string) (int, error)
	ListContacts(ctx context.Context) ([]Contact, error)
	UpdateContact(ctx context.Context, c *Contact) error
	DeleteContact(ctx context.Context, id string) error

	// Login codes
	CreateLoginCode(ctx context.Context, lc *LoginCode) error
	ConsumeLoginCode(ctx context.Context, codeHash string, now time.Time) (*LoginCode, error)
	PurgeExpiredLoginCodes(ctx context.Context, before time.Time) (int64, error)

	// Webhook events
	RecordWebhookEvent(ctx context.Context, id, eventType string) error
	WebhookEventProcessed(ctx context.Context, id string) (bool, error)
	PurgeOldWebhookEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Profile is the application-level user record.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone"`
	IsAdmin      bool      `json:"is_admin"`
	IsSubscribed bool      `json:"is_subscribed"`
	CustomerID   string    `json:"customer_id,omitempty"` // Stripe customer id
	PriceID      string    `json:"price_id,omitempty"`    // Stripe price id of the purchased plan
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProfileSummary is a profile row as shown in the admin user list.
type ProfileSummary struct {
	Profile
	SchoolCount int `json:"school_count"`
}

// School is a registered institution owned by a profile.
type School struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	FullSchoolName   string    `json:"full_school_name"`
	ShortSchoolName  string    `json:"short_school_name"`
	StreetAddress    string    `json:"street_address"`
	City             string    `json:"city"`
	State            string    `json:"state"`
	ZipCode          string    `json:"zip_code"`
	PrimaryContact   *Contact  `json:"primary_contact"`   // nil when the contact was deleted
	SecondaryContact *Contact  `json:"secondary_contact"` // nil when the contact was deleted
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Contact is a person attached to a school.
type Contact struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name"`
	Title       string    `json:"title"`
	Email       string    `json:"email"`
	OfficePhone string    `json:"office_phone"`
	CellPhone   string    `json:"cell_phone"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LoginCode is a pending one-time login code. Only the hash of the code is stored.
type LoginCode struct {
	CodeHash  string     `json:"-"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Phone     string     `json:"phone"`
	Next      string     `json:"next"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}
