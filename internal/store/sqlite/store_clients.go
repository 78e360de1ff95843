package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

const clientColumns = `id, name, messenger_id, group_name, connection_name, state, status, speed_limit, amt_monthly, billing_date`

func scanClient(row interface{ Scan(...any) error }) (domain.Client, error) {
	var c domain.Client
	var billingDate sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.MessengerID, &c.GroupName, &c.ConnectionName,
		&c.State, &c.Status, &c.SpeedLimit, &c.AmtMonthly, &billingDate)
	if err != nil {
		return domain.Client{}, err
	}
	if billingDate.Valid {
		t := billingDate.Time
		c.BillingDate = &t
	}
	return c, nil
}

// CreateClient inserts a new client record and returns it with its id set.
func (s *Store) CreateClient(ctx context.Context, c domain.Client) (domain.Client, error) {
	if c.State == "" {
		c.State = domain.StateUnknown
	}
	if c.Status == "" {
		c.Status = domain.BillingUnknown
	}
	var billingDate any
	if c.BillingDate != nil {
		billingDate = c.BillingDate.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO clients(name, messenger_id, group_name, connection_name, state, status, speed_limit, amt_monthly, billing_date)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.MessengerID, c.GroupName, c.ConnectionName, c.State, c.Status, c.SpeedLimit, c.AmtMonthly, billingDate)
	if err != nil {
		return domain.Client{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

// ListClients returns all clients ordered by id.
func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListClientsByGroup returns all clients in the given group ordered by id.
func (s *Store) ListClientsByGroup(ctx context.Context, group string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE group_name = ? ORDER BY id`, group)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetClient returns the client with the given id.
func (s *Store) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Client{}, domain.ErrClientNotFound
	}
	return c, err
}

// GetClientByConnectionName resolves a router netwatch entry to its client
// record. Matching is case-insensitive on the stored connection name.
func (s *Store) GetClientByConnectionName(ctx context.Context, name string) (domain.Client, error) {
	name = strings.TrimSpace(name)
	c, err := scanClient(s.db.QueryRowContext(ctx, `
SELECT `+clientColumns+` FROM clients WHERE connection_name = ? COLLATE NOCASE`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Client{}, domain.ErrClientNotFound
	}
	return c, err
}

// UpdateClient overwrites the mutable fields of an existing client record.
func (s *Store) UpdateClient(ctx context.Context, c domain.Client) error {
	var billingDate any
	if c.BillingDate != nil {
		billingDate = c.BillingDate.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE clients
SET name = ?, messenger_id = ?, group_name = ?, connection_name = ?, state = ?, status = ?, speed_limit = ?, amt_monthly = ?, billing_date = ?
WHERE id = ?`,
		c.Name, c.MessengerID, c.GroupName, c.ConnectionName, string(c.State), string(c.Status), c.SpeedLimit, c.AmtMonthly, billingDate, c.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

// DeleteClient removes a client record.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

// UpdateClientState records a connectivity change. It reports whether the
// stored state actually changed, so redundant netwatch polls stay silent.
func (s *Store) UpdateClientState(ctx context.Context, id int64, state domain.ConnectionState) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET state = ? WHERE id = ? AND state <> ?`, state, id, state)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateClientBilling sets a client's billing status, returning whether the
// stored status changed.
func (s *Store) UpdateClientBilling(ctx context.Context, id int64, status domain.BillingStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET status = ? WHERE id = ? AND status <> ?`, status, id, status)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetPaid marks a client paid and advances their due date by one month. The
// updated record is returned so callers can broadcast the new billing date.
func (s *Store) SetPaid(ctx context.Context, id int64, now time.Time) (domain.Client, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanClient(tx.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Client{}, domain.ErrClientNotFound
	}
	if err != nil {
		return domain.Client{}, err
	}

	next := nextBillingDate(c.BillingDate, now)
	c.Status = domain.BillingPaid
	c.BillingDate = &next

	if _, err = tx.ExecContext(ctx, `UPDATE clients SET status = ?, billing_date = ? WHERE id = ?`,
		c.Status, next.UTC(), id); err != nil {
		return domain.Client{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// SetPaidBulk marks every listed client paid with advanced due dates in one
// transaction. Unknown ids are skipped; the number of updated rows is
// returned.
func (s *Store) SetPaidBulk(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var updated int64
	for _, id := range ids {
		c, err := scanClient(tx.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, err
		}
		next := nextBillingDate(c.BillingDate, now)
		if _, err = tx.ExecContext(ctx, `UPDATE clients SET status = ?, billing_date = ? WHERE id = ?`,
			domain.BillingPaid, next.UTC(), id); err != nil {
			return 0, err
		}
		updated++
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

// SetStatusBulk sets the billing status of every listed client without
// touching due dates. Used by the bulk unpaid operation.
func (s *Store) SetStatusBulk(ctx context.Context, ids []int64, status domain.BillingStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, status)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET status = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// nextBillingDate advances a due date one month past the current one. A
// client with no due date yet starts a cycle one month from now.
func nextBillingDate(current *time.Time, now time.Time) time.Time {
	if current == nil || current.IsZero() {
		return now.AddDate(0, 1, 0)
	}
	return current.AddDate(0, 1, 0)
}
