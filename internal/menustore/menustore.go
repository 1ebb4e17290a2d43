// Package menustore provides SQLite storage for the mirrored weekly menu.
package menustore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/model"
	_ "modernc.org/sqlite"
)

const metaLastUpdated = "last_updated"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the menu cache at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS days (
		date TEXT PRIMARY KEY,
		weekday TEXT NOT NULL,
		order_cutoff TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		article_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL DEFAULT 0,
		available INTEGER NOT NULL DEFAULT 0,
		available_amount INTEGER NOT NULL DEFAULT 0,
		amount_tracking INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_items_date ON items(date);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// UpsertDay replaces the stored menu for one calendar day. Fresh data always
// wins for a day it covers; days it does not cover are left untouched.
func (db *DB) UpsertDay(day model.DayMenu) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO days (date, weekday, order_cutoff) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET weekday = ?, order_cutoff = ?`,
		day.Date, day.Weekday, day.OrderCutoff, day.Weekday, day.OrderCutoff); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM items WHERE date = ?", day.Date); err != nil {
		tx.Rollback()
		return err
	}
	for _, item := range day.Items {
		if _, err := tx.Exec(`
			INSERT INTO items (id, date, article_id, name, description, price, available, available_amount, amount_tracking)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, day.Date, item.ArticleID, item.Name, item.Description,
			item.Price, boolToInt(item.Available), item.AvailableAmount, boolToInt(item.AmountTracking)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// PurgeBefore deletes all days strictly older than the given ISO date and
// returns how many days were removed. Used on refresh to drop past weeks.
func (db *DB) PurgeBefore(date string) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("DELETE FROM items WHERE date < ?", date); err != nil {
		tx.Rollback()
		return 0, err
	}
	res, err := tx.Exec("DELETE FROM days WHERE date < ?", date)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	removed, _ := res.RowsAffected()
	return removed, tx.Commit()
}

// WeeklyMenus returns every cached day grouped into ISO-week buckets, weeks
// and days in ascending date order.
func (db *DB) WeeklyMenus() (model.MenuDatabase, error) {
	rows, err := db.conn.Query("SELECT date, weekday, order_cutoff FROM days ORDER BY date")
	if err != nil {
		return model.MenuDatabase{}, err
	}
	defer rows.Close()

	var days []model.DayMenu
	for rows.Next() {
		var d model.DayMenu
		if err := rows.Scan(&d.Date, &d.Weekday, &d.OrderCutoff); err != nil {
			return model.MenuDatabase{}, err
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return model.MenuDatabase{}, err
	}

	for i := range days {
		items, err := db.itemsForDay(days[i].Date)
		if err != nil {
			return model.MenuDatabase{}, err
		}
		days[i].Items = items
	}

	result := model.MenuDatabase{Weeks: []model.WeeklyMenu{}}
	for _, day := range days {
		parsed, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		year, week := parsed.ISOWeek()
		n := len(result.Weeks)
		if n == 0 || result.Weeks[n-1].Year != year || result.Weeks[n-1].WeekNumber != week {
			result.Weeks = append(result.Weeks, model.WeeklyMenu{Year: year, WeekNumber: week})
			n++
		}
		result.Weeks[n-1].Days = append(result.Weeks[n-1].Days, day)
	}

	if updated, err := db.getMeta(metaLastUpdated); err == nil {
		result.ScrapedAt = updated
	}
	return result, nil
}

func (db *DB) itemsForDay(date string) ([]model.MenuItem, error) {
	rows, err := db.conn.Query(`
		SELECT id, article_id, name, description, price, available, available_amount, amount_tracking
		FROM items WHERE date = ? ORDER BY id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.MenuItem{}
	for rows.Next() {
		var it model.MenuItem
		var available, tracking int
		if err := rows.Scan(&it.ID, &it.ArticleID, &it.Name, &it.Description,
			&it.Price, &available, &it.AvailableAmount, &tracking); err != nil {
			return nil, err
		}
		it.Available = available != 0
		it.AmountTracking = tracking != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetLastUpdated records when the cache was last refreshed.
func (db *DB) SetLastUpdated(t time.Time) error {
	return db.setMeta(metaLastUpdated, t.UTC().Format(time.RFC3339))
}

func (db *DB) getMeta(key string) (string, error) {
	var val string
	err := db.conn.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&val)
	return val, err
}

func (db *DB) setMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?",
		key, value, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
