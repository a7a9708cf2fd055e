package model

import "time"

// Contact is a recipient of campaign messages. CustomFields feed template
// interpolation and AI personalization.
type Contact struct {
	ID            string            `db:"id" json:"id"`
	ContactListID string            `db:"contact_list_id" json:"contact_list_id"`
	Name          string            `db:"name" json:"name"`
	PhoneNumber   string            `db:"phone_number" json:"phone_number"`
	CustomFields  map[string]string `db:"custom_fields" json:"custom_fields"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// MessageTemplate is the base text of a campaign step, with {field}
// placeholders resolved per contact.
type MessageTemplate struct {
	ID      string `db:"id" json:"id"`
	UserID  string `db:"user_id" json:"user_id"`
	Name    string `db:"name" json:"name"`
	Content string `db:"content" json:"content"`
}

// Instance is one messaging gateway connection a campaign sends through.
type Instance struct {
	ID      string `db:"id" json:"id"`
	UserID  string `db:"user_id" json:"user_id"`
	Name    string `db:"name" json:"name"`
	BaseURL string `db:"base_url" json:"base_url"`
	APIKey  string `db:"api_key" json:"-"`
}

// BlacklistEntry blocks sends to a phone number for one user.
type BlacklistEntry struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	Reason      string    `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
