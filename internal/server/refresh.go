package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/bessa"
	"github.com/TauNeutrino/kantine-overview/internal/model"
)

// maxRefreshDates caps how many menu days one refresh mirrors.
const maxRefreshDates = 30

type refreshProgress struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// handleRefreshProgress mirrors the upstream menu into the local cache while
// streaming progress to the caller. EventSource cannot set headers, so the
// token arrives as a query parameter; without one the guest token is used.
func (s *Server) handleRefreshProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	auth := s.upstream.GuestAuth()
	if token := r.URL.Query().Get("token"); token != "" {
		auth = "Token " + token
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	progress := func(p refreshProgress) {
		data, err := json.Marshal(p)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if err := s.refreshMenus(r, auth, progress); err != nil {
		s.log.WithError(err).Error("Menu refresh failed")
		progress(refreshProgress{Step: "error", Message: fmt.Sprintf("Fehler: %v", err), Total: 100})
		fmt.Fprint(w, "event: error\ndata: {}\n\n")
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

func (s *Server) refreshMenus(r *http.Request, auth string, progress func(refreshProgress)) error {
	ctx := r.Context()
	progress(refreshProgress{Step: "start", Message: "Hole verfügbare Daten...", Total: 100})

	dates, err := s.upstream.MenuDates(ctx, auth)
	if err != nil {
		return fmt.Errorf("fetch dates: %w", err)
	}

	// Keep the last week and everything upcoming, oldest first.
	earliest := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	kept := dates[:0]
	for _, d := range dates {
		if d.Date >= earliest {
			kept = append(kept, d)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Date < kept[j].Date })
	if len(kept) > maxRefreshDates {
		kept = kept[:maxRefreshDates]
	}
	total := len(kept)

	progress(refreshProgress{
		Step:    "dates_fetched",
		Message: fmt.Sprintf("%d Tage gefunden. Lade Details...", total),
		Total:   total,
	})

	for i, d := range kept {
		progress(refreshProgress{
			Step:    "fetching_details",
			Message: fmt.Sprintf("Lade Menü für %s...", d.Date),
			Current: i + 1,
			Total:   total,
		})

		day, err := s.fetchDay(ctx, auth, d.Date)
		if err != nil {
			s.log.WithError(err).WithField("date", d.Date).Error("Could not fetch day menu")
		} else if len(day.Items) > 0 {
			if err := s.menus.UpsertDay(day); err != nil {
				s.log.WithError(err).WithField("date", d.Date).Error("Could not store day menu")
			}
		}

		// Polite pacing between upstream calls.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	progress(refreshProgress{Step: "saving", Message: "Daten werden gespeichert...", Current: total, Total: total})

	// Drop weeks before the current ISO week.
	now := time.Now()
	monday := now.AddDate(0, 0, -((int(now.Weekday()) + 6) % 7)).Format("2006-01-02")
	if _, err := s.menus.PurgeBefore(monday); err != nil {
		s.log.WithError(err).Error("Could not purge old menu weeks")
	}
	if err := s.menus.SetLastUpdated(now); err != nil {
		s.log.WithError(err).Error("Could not record refresh time")
	}

	progress(refreshProgress{Step: "complete", Message: "Aktualisierung abgeschlossen!", Current: total, Total: total})
	return nil
}

func (s *Server) fetchDay(ctx context.Context, auth, date string) (model.DayMenu, error) {
	groups, err := s.upstream.DayMenu(ctx, auth, date)
	if err != nil {
		return model.DayMenu{}, err
	}

	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return model.DayMenu{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	cutoff := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 10, 0, 0, 0, time.Local)

	day := model.DayMenu{
		Date:        date,
		Weekday:     parsed.Weekday().String(),
		OrderCutoff: cutoff.Format(time.RFC3339),
	}
	for _, group := range groups {
		for _, article := range group.Items {
			day.Items = append(day.Items, toMenuItem(date, article))
		}
	}
	return day, nil
}

func toMenuItem(date string, a bessa.MenuArticle) model.MenuItem {
	name := a.Name
	if name == "" {
		name = "Unknown"
	}
	return model.MenuItem{
		ID:              fmt.Sprintf("%s_%d", date, a.ID),
		ArticleID:       a.ArticleID(),
		Name:            name,
		Description:     a.Description,
		Price:           float64(a.Price),
		Available:       a.Available(),
		AvailableAmount: int(a.AvailableAmount),
		AmountTracking:  a.AmountTracking == nil || *a.AmountTracking,
	}
}

func (s *Server) handleMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := s.menus.WeeklyMenus()
	if err != nil {
		s.log.WithError(err).Error("Could not read menu cache")
		s.respondError(w, http.StatusInternalServerError, "Could not read menu data")
		return
	}
	s.respond(w, http.StatusOK, menus)
}
