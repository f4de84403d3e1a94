package models

import "time"

// JournalEntry is a shared journal/scrapbook entry owned by a couple
type JournalEntry struct {
	ID        string     `json:"id" db:"id"`
	CoupleID  string     `json:"couple_id" db:"couple_id"`
	AuthorID  string     `json:"author_id" db:"author_id"`
	Title     string     `json:"title" db:"title"`
	Body      string     `json:"body,omitempty" db:"body"`
	EntryDate string     `json:"entry_date,omitempty" db:"entry_date"` // YYYY-MM-DD
	PhotoURL  string     `json:"photo_url,omitempty" db:"photo_url"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
