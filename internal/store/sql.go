package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

// SQLStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect goose.Dialect
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) migrate(ctx context.Context) error {
	dir := "migrations/sqlite"
	if s.dialect == goose.DialectPostgres {
		dir = "migrations/postgres"
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx dbtx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// --- Profiles ---

const profileColumns = "id, email, first_name, last_name, phone, is_admin, is_subscribed, customer_id, price_id, created_at, updated_at"

func scanProfile(row interface{ Scan(...any) error }, p *Profile, extra ...any) error {
	dest := []any{&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.IsAdmin, &p.IsSubscribed,
		&p.CustomerID, &p.PriceID, &p.CreatedAt, &p.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

func stampProfile(p *Profile) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
}

func (s *SQLStore) CreateProfile(ctx context.Context, p *Profile) error {
	stampProfile(p)
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Email, p.FirstName, p.LastName, p.Phone, p.IsAdmin, p.IsSubscribed,
		p.CustomerID, p.PriceID, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpsertProfileLogin inserts the profile or refreshes its email and non-empty
// name fields. Admin and billing fields of an existing row are left untouched.
// An email already owned by another profile yields ErrDuplicate.
func (s *SQLStore) UpsertProfileLogin(ctx context.Context, p *Profile) error {
	stampProfile(p)
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			first_name = CASE WHEN excluded.first_name <> '' THEN excluded.first_name ELSE profiles.first_name END,
			last_name = CASE WHEN excluded.last_name <> '' THEN excluded.last_name ELSE profiles.last_name END,
			phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE profiles.phone END,
			updated_at = excluded.updated_at`),
		p.ID, p.Email, p.FirstName, p.LastName, p.Phone, p.IsAdmin, p.IsSubscribed,
		p.CustomerID, p.PriceID, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLStore) getProfile(ctx context.Context, where string, arg any) (*Profile, error) {
	var p Profile
	err := scanProfile(s.db.QueryRowContext(ctx, s.rebind(
		"SELECT "+profileColumns+" FROM profiles WHERE "+where+" ORDER BY created_at LIMIT 1"), arg), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return s.getProfile(ctx, "id = ?", id)
}

func (s *SQLStore) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	return s.getProfile(ctx, "email = ?", email)
}

func (s *SQLStore) GetProfileByCustomerID(ctx context.Context, customerID string) (*Profile, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.getProfile(ctx, "customer_id = ?", customerID)
}

func (s *SQLStore) ListProfiles(ctx context.Context) ([]ProfileSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.email, p.first_name, p.last_name, p.phone, p.is_admin, p.is_subscribed,
			p.customer_id, p.price_id, p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM schools sc WHERE sc.user_id = p.id)
		 FROM profiles p ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProfileSummary
	for rows.Next() {
		var ps ProfileSummary
		if err := scanProfile(rows, &ps.Profile, &ps.SchoolCount); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetProfileAdmin(ctx context.Context, id string, isAdmin bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE profiles SET is_admin = ?, updated_at = ? WHERE id = ?"),
		isAdmin, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) UpdateProfileBilling(ctx context.Context, id, customerID, priceID string, subscribed bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE profiles SET customer_id = ?, price_id = ?, is_subscribed = ?, updated_at = ? WHERE id = ?"),
		customerID, priceID, subscribed, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetSubscribedByCustomer sets is_subscribed on every profile linked to the
// customer and reports how many rows changed.
func (s *SQLStore) SetSubscribedByCustomer(ctx context.Context, customerID string, subscribed bool) (int64, error) {
	if customerID == "" {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE profiles SET is_subscribed = ?, updated_at = ? WHERE customer_id = ?"),
		subscribed, time.Now().UTC(), customerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Schools and contacts ---

const schoolSelect = `SELECT s.id, s.user_id, s.full_school_name, s.short_school_name, s.street_address,
	s.city, s.state, s.zip_code, s.created_at, s.updated_at,
	pc.id, pc.full_name, pc.title, pc.email, pc.office_phone, pc.cell_phone, pc.created_at, pc.updated_at,
	sc.id, sc.full_name, sc.title, sc.email, sc.office_phone, sc.cell_phone, sc.created_at, sc.updated_at
	FROM schools s
	LEFT JOIN contacts pc ON pc.id = s.primary_contact_id
	LEFT JOIN contacts sc ON sc.id = s.secondary_contact_id`

// nullContact receives the columns of a LEFT JOINed contact.
type nullContact struct {
	id, fullName, title, email, officePhone, cellPhone sql.NullString
	createdAt, updatedAt                                sql.NullTime
}

func (n *nullContact) dest() []any {
	return []any{&n.id, &n.fullName, &n.title, &n.email, &n.officePhone, &n.cellPhone, &n.createdAt, &n.updatedAt}
}

func (n *nullContact) contact() *Contact {
	if !n.id.Valid {
		return nil
	}
	return &Contact{
		ID:          n.id.String,
		FullName:    n.fullName.String,
		Title:       n.title.String,
		Email:       n.email.String,
		OfficePhone: n.officePhone.String,
		CellPhone:   n.cellPhone.String,
		CreatedAt:   n.createdAt.Time,
		UpdatedAt:   n.updatedAt.Time,
	}
}

func scanSchool(row interface{ Scan(...any) error }) (*School, error) {
	var sch School
	var primary, secondary nullContact
	dest := []any{&sch.ID, &sch.UserID, &sch.FullSchoolName, &sch.ShortSchoolName, &sch.StreetAddress,
		&sch.City, &sch.State, &sch.ZipCode, &sch.CreatedAt, &sch.UpdatedAt}
	dest = append(dest, primary.dest()...)
	dest = append(dest, secondary.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	sch.PrimaryContact = primary.contact()
	sch.SecondaryContact = secondary.contact()
	return &sch, nil
}

func (s *SQLStore) listSchools(ctx context.Context, query string, args ...any) ([]School, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []School
	for rows.Next() {
		sch, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}

func (s *SQLStore) insertContact(ctx context.Context, tx dbtx, c *Contact, now time.Time) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO contacts (id, full_name, title, email, office_phone, cell_phone, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.FullName, c.Title, c.Email, c.OfficePhone, c.CellPhone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *SQLStore) updateContact(ctx context.Context, tx dbtx, c *Contact, now time.Time) error {
	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE contacts SET full_name = ?, title = ?, email = ?, office_phone = ?, cell_phone = ?, updated_at = ?
		 WHERE id = ?`),
		c.FullName, c.Title, c.Email, c.OfficePhone, c.CellPhone, now, c.ID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	c.UpdatedAt = now
	if err := tx.QueryRowContext(ctx, s.rebind("SELECT created_at FROM contacts WHERE id = ?"), c.ID).Scan(&c.CreatedAt); err != nil {
		return fmt.Errorf("reload contact: %w", err)
	}
	return nil
}

func contactID(c *Contact) any {
	if c == nil {
		return nil
	}
	return c.ID
}

// RegisterSchool inserts both contacts and the school in one transaction.
// A user already owning a school yields ErrDuplicate.
func (s *SQLStore) RegisterSchool(ctx context.Context, school *School) error {
	now := time.Now().UTC()
	if school.ID == "" {
		school.ID = uuid.New().String()
	}
	if school.CreatedAt.IsZero() {
		school.CreatedAt = now
	}
	school.UpdatedAt = school.CreatedAt

	return s.withTx(ctx, func(tx dbtx) error {
		for _, c := range []*Contact{school.PrimaryContact, school.SecondaryContact} {
			if c == nil {
				continue
			}
			if err := s.insertContact(ctx, tx, c, school.CreatedAt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO schools (id, user_id, full_school_name, short_school_name, street_address, city, state,
				zip_code, primary_contact_id, secondary_contact_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			school.ID, school.UserID, school.FullSchoolName, school.ShortSchoolName, school.StreetAddress,
			school.City, school.State, school.ZipCode, contactID(school.PrimaryContact),
			contactID(school.SecondaryContact), school.CreatedAt, school.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert school: %w", err)
		}
		return nil
	})
}

// UpdateSchool rewrites the school fields and both contacts in one transaction.
// A contact without an id (for example one deleted by an admin) is recreated.
func (s *SQLStore) UpdateSchool(ctx context.Context, school *School) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx dbtx) error {
		for _, c := range []*Contact{school.PrimaryContact, school.SecondaryContact} {
			if c == nil {
				continue
			}
			if c.ID == "" {
				if err := s.insertContact(ctx, tx, c, now); err != nil {
					return err
				}
				continue
			}
			if err := s.updateContact(ctx, tx, c, now); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE schools SET full_school_name = ?, short_school_name = ?, street_address = ?, city = ?,
				state = ?, zip_code = ?, primary_contact_id = ?, secondary_contact_id = ?, updated_at = ?
			 WHERE id = ?`),
			school.FullSchoolName, school.ShortSchoolName, school.StreetAddress, school.City,
			school.State, school.ZipCode, contactID(school.PrimaryContact), contactID(school.SecondaryContact),
			now, school.ID)
		if err != nil {
			return fmt.Errorf("update school: %w", err)
		}
		school.UpdatedAt = now
		return requireRow(res)
	})
}

func (s *SQLStore) GetSchool(ctx context.Context, id string) (*School, error) {
	sch, err := scanSchool(s.db.QueryRowContext(ctx, s.rebind(schoolSelect+" WHERE s.id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sch, err
}

func (s *SQLStore) ListSchoolsByUser(ctx context.Context, userID string) ([]School, error) {
	return s.listSchools(ctx, schoolSelect+" WHERE s.user_id = ? ORDER BY s.created_at DESC", userID)
}

// ListSchools returns every school, newest first.
func (s *SQLStore) ListSchools(ctx context.Context) ([]School, error) {
	return s.listSchools(ctx, schoolSelect+" ORDER BY s.created_at DESC")
}

func (s *SQLStore) CountSchoolsByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM schools WHERE user_id = ?"), userID).Scan(&n)
	return n, err
}

// ListContacts returns every contact, newest first.
func (s *SQLStore) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name, title, email, office_phone, cell_phone, created_at, updated_at
		 FROM contacts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.FullName, &c.Title, &c.Email, &c.OfficePhone, &c.CellPhone,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateContact rewrites the contact fields and fills in its timestamps.
func (s *SQLStore) UpdateContact(ctx context.Context, c *Contact) error {
	return s.updateContact(ctx, s.db, c, time.Now().UTC())
}

// DeleteContact removes a contact and clears any school reference to it.
func (s *SQLStore) DeleteContact(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx dbtx) error {
		for _, col := range []string{"primary_contact_id", "secondary_contact_id"} {
			if _, err := tx.ExecContext(ctx, s.rebind(
				"UPDATE schools SET "+col+" = NULL WHERE "+col+" = ?"), id); err != nil {
				return fmt.Errorf("clear %s: %w", col, err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM contacts WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete contact: %w", err)
		}
		return requireRow(res)
	})
}

// --- Login codes ---

func (s *SQLStore) CreateLoginCode(ctx context.Context, lc *LoginCode) error {
	if lc.CreatedAt.IsZero() {
		lc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO login_codes (code_hash, email, first_name, last_name, phone, next, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		lc.CodeHash, strings.ToLower(strings.TrimSpace(lc.Email)), lc.FirstName, lc.LastName, lc.Phone,
		lc.Next, lc.CreatedAt.Unix(), lc.ExpiresAt.Unix())
	return err
}

// ConsumeLoginCode marks the code used and returns it. Unknown, already used
// and expired codes return (nil, nil); a code can be consumed at most once.
func (s *SQLStore) ConsumeLoginCode(ctx context.Context, codeHash string, now time.Time) (*LoginCode, error) {
	var lc LoginCode
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`UPDATE login_codes SET used_at = ? WHERE code_hash = ? AND used_at IS NULL
		 RETURNING code_hash, email, first_name, last_name, phone, next, created_at, expires_at`),
		now.Unix(), codeHash,
	).Scan(&lc.CodeHash, &lc.Email, &lc.FirstName, &lc.LastName, &lc.Phone, &lc.Next, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lc.CreatedAt = time.Unix(createdAt, 0).UTC()
	lc.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	used := now.UTC()
	lc.UsedAt = &used
	if !now.Before(lc.ExpiresAt) {
		return nil, nil
	}
	return &lc, nil
}

// PurgeExpiredLoginCodes deletes codes that expired before the given time.
func (s *SQLStore) PurgeExpiredLoginCodes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM login_codes WHERE expires_at < ?"), before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Webhook events ---

// RecordWebhookEvent remembers a processed event id. Recording the same id twice is a no-op.
func (s *SQLStore) RecordWebhookEvent(ctx context.Context, id, eventType string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO webhook_events (id, type, processed_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING"),
		id, eventType, time.Now().Unix())
	return err
}

func (s *SQLStore) WebhookEventProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM webhook_events WHERE id = ?"), id).Scan(&n)
	return n > 0, err
}

func (s *SQLStore) PurgeOldWebhookEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM webhook_events WHERE processed_at < ?"), before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
