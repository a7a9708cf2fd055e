package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/samuelwildary2025/disparo/internal/model"
)

type ContactRepositoryInterface interface {
	GetByID(id string) (*model.Contact, error)
	ListByList(contactListID string, limit int) ([]model.Contact, error)
	IsBlacklisted(userID, phoneNumber string) (bool, error)
	AddToBlacklist(userID, phoneNumber, reason string) error
	RemoveFromBlacklist(userID, phoneNumber string) error
	ListBlacklist(userID string) ([]model.BlacklistEntry, error)
}

type ContactRepository struct {
	DB *sql.DB
}

func scanContact(row interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	var customFields []byte

	err := row.Scan(&c.ID, &c.ContactListID, &c.Name, &c.PhoneNumber, &customFields, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &c.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	if c.CustomFields == nil {
		c.CustomFields = map[string]string{}
	}
	return &c, nil
}

func (r *ContactRepository) GetByID(id string) (*model.Contact, error) {
	row := r.DB.QueryRow(`
		SELECT id, contact_list_id, name, phone_number, custom_fields, created_at
		FROM contacts WHERE id=$1`, id)

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListByList fetches the contacts of a list in insertion order. limit <= 0
// means no limit; test-mode campaigns pass their sample size.
func (r *ContactRepository) ListByList(contactListID string, limit int) ([]model.Contact, error) {
	query := `
		SELECT id, contact_list_id, name, phone_number, custom_fields, created_at
		FROM contacts WHERE contact_list_id=$1 ORDER BY created_at ASC`
	args := []any{contactListID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) IsBlacklisted(userID, phoneNumber string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM blacklist_entries WHERE user_id=$1 AND phone_number=$2)`,
		userID, phoneNumber).Scan(&exists)
	return exists, err
}

func (r *ContactRepository) AddToBlacklist(userID, phoneNumber, reason string) error {
	_, err := r.DB.Exec(`
		INSERT INTO blacklist_entries (id, user_id, phone_number, reason, created_at)
		VALUES ($1,$2,$3,$4,NOW())
		ON CONFLICT (user_id, phone_number) DO UPDATE SET reason=EXCLUDED.reason`,
		uuid.NewString(), userID, phoneNumber, reason)
	return err
}

func (r *ContactRepository) RemoveFromBlacklist(userID, phoneNumber string) error {
	_, err := r.DB.Exec(`DELETE FROM blacklist_entries WHERE user_id=$1 AND phone_number=$2`,
		userID, phoneNumber)
	return err
}

func (r *ContactRepository) ListBlacklist(userID string) ([]model.BlacklistEntry, error) {
	rows, err := r.DB.Query(`
		SELECT id, user_id, phone_number, reason, created_at
		FROM blacklist_entries WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.BlacklistEntry{}
	for rows.Next() {
		var e model.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PhoneNumber, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
