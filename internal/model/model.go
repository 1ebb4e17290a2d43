// Package model defines shared data structures.
package model

import "time"

// FlaggedItem is a user's request to be notified when a menu item becomes
// orderable again. The ID is the composite key "<date>_<articleId>" and at
// most one flag exists per ID at any time.
type FlaggedItem struct {
	ID          string `json:"id"`
	Date        string `json:"date"` // ISO date, e.g. "2026-02-03"
	ArticleID   int    `json:"articleId"`
	UserID      string `json:"userId"`
	Cutoff      string `json:"cutoff"` // ISO timestamp; flag is pruned after this
	CreatedAt   string `json:"createdAt"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Expired reports whether the flag's ordering window has closed. A cutoff
// that cannot be parsed keeps the flag alive rather than silently dropping it.
func (f FlaggedItem) Expired(now time.Time) bool {
	cutoff, err := time.Parse(time.RFC3339, f.Cutoff)
	if err != nil {
		return false
	}
	return now.After(cutoff)
}

// MenuItem is one orderable article on a day's menu.
type MenuItem struct {
	ID              string  `json:"id"` // "<date>_<upstream item id>"
	ArticleID       int     `json:"articleId"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Price           float64 `json:"price"`
	Available       bool    `json:"available"`
	AvailableAmount int     `json:"availableAmount"`
	AmountTracking  bool    `json:"amountTracking"`
}

// DayMenu is the menu of a single calendar day.
type DayMenu struct {
	Date        string     `json:"date"`
	Weekday     string     `json:"weekday"`
	OrderCutoff string     `json:"orderCutoff"` // ISO timestamp, orders close here
	Items       []MenuItem `json:"items"`
}

// WeeklyMenu groups day menus by ISO week.
type WeeklyMenu struct {
	Year       int       `json:"year"`
	WeekNumber int       `json:"weekNumber"`
	Days       []DayMenu `json:"days"`
}

// MenuDatabase is the full cached menu as served to the UI.
type MenuDatabase struct {
	Weeks     []WeeklyMenu `json:"weeks"`
	ScrapedAt string       `json:"scrapedAt,omitempty"`
}

// SSE event names exchanged with connected clients.
const (
	EventConnected   = "connected"
	EventPollRequest = "poll_request"
	EventItemUpdate  = "item_update"
)

// StatusAvailable is the only status carried by item_update events.
const StatusAvailable = "available"

// Connected acknowledges a new push channel and tells the client its id.
type Connected struct {
	ClientID string `json:"clientId"`
}

// PollRequest delegates one availability check to a connected client.
type PollRequest struct {
	FlagID    string `json:"flagId"`
	Date      string `json:"date"`
	ArticleID int    `json:"articleId"`
	Name      string `json:"name"`
}

// ItemUpdate is broadcast to every client when a watched item became available.
type ItemUpdate struct {
	FlagID    string `json:"flagId"`
	Status    string `json:"status"`
	Name      string `json:"name"`
	Date      string `json:"date"`
	ArticleID int    `json:"articleId"`
}

// PollResult is what a client reports back after performing a delegated check.
type PollResult struct {
	FlagID      string `json:"flagId"`
	IsAvailable bool   `json:"isAvailable"`
}
