// Package poll coordinates periodic distributed availability checks.
//
// The orchestrator never talks to the upstream canteen API itself. Each cycle
// it spreads the outstanding flags round-robin across the connected clients,
// which perform the checks with their own credentials and report back over
// HTTP. Positive results are broadcast to every connected client.
package poll

import (
	"fmt"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/model"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// FlagSource is the view of the flag store the orchestrator needs.
type FlagSource interface {
	ListAll() []model.FlaggedItem
	Get(id string) (model.FlaggedItem, bool)
	PruneExpired(now time.Time) (int, error)
}

// ClientRegistry is the view of the live-connection registry the orchestrator
// needs. Sends are at-most-once; SendTo returns false for vanished clients.
type ClientRegistry interface {
	ListIDs() []string
	SendTo(id, event string, payload any) bool
	Broadcast(event string, payload any)
}

// Orchestrator runs the distribution cycle on a fixed interval.
type Orchestrator struct {
	flags    FlagSource
	clients  ClientRegistry
	interval time.Duration
	log      *logrus.Logger
	cron     *cron.Cron
}

// NewOrchestrator wires an orchestrator. It does nothing until Start.
func NewOrchestrator(flags FlagSource, clients ClientRegistry, interval time.Duration, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		flags:    flags,
		clients:  clients,
		interval: interval,
		log:      log,
	}
}

// Start runs one distribution cycle immediately, then repeats it on the
// configured interval until Stop.
func (o *Orchestrator) Start() error {
	if o.cron != nil {
		return nil
	}
	o.log.WithField("interval", o.interval).Info("Starting polling orchestrator")

	o.DistributeTasks()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", o.interval), o.DistributeTasks); err != nil {
		return fmt.Errorf("schedule distribution cycle: %w", err)
	}
	c.Start()
	o.cron = c
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (o *Orchestrator) Stop() {
	if o.cron == nil {
		return
	}
	ctx := o.cron.Stop()
	<-ctx.Done()
	o.cron = nil
	o.log.Info("Polling orchestrator stopped")
}

// DistributeTasks runs one cycle: prune expired flags, then assign each
// outstanding flag to the next connected client in rotation. Distribution is
// fire-and-forget; a flag whose send fails stays in the store and is simply
// redistributed next cycle.
func (o *Orchestrator) DistributeTasks() {
	clientIDs := o.clients.ListIDs()
	if len(clientIDs) == 0 {
		o.log.Debug("No connected clients, skipping polling cycle")
		return
	}

	if _, err := o.flags.PruneExpired(time.Now()); err != nil {
		o.log.WithError(err).Error("Could not prune expired flags")
	}

	flags := o.flags.ListAll()
	if len(flags) == 0 {
		return
	}

	o.log.WithFields(logrus.Fields{
		"flags":   len(flags),
		"clients": len(clientIDs),
	}).Info("Distributing polling tasks")

	for i, flag := range flags {
		clientID := clientIDs[i%len(clientIDs)]
		delivered := o.clients.SendTo(clientID, model.EventPollRequest, model.PollRequest{
			FlagID:    flag.ID,
			Date:      flag.Date,
			ArticleID: flag.ArticleID,
			Name:      flag.Name,
		})
		if !delivered {
			o.log.WithFields(logrus.Fields{"flag": flag.ID, "client": clientID}).
				Debug("Client gone, task will be reassigned next cycle")
		}
	}
}

// HandlePollResult processes a check result reported by any client. Negative
// results and results for flags that no longer exist are no-ops; a positive
// result broadcasts an item_update to all connected clients. The flag is
// intentionally kept so checking continues until the user unflags it or the
// cutoff passes.
func (o *Orchestrator) HandlePollResult(flagID string, isAvailable bool) {
	if !isAvailable {
		return
	}

	flag, ok := o.flags.Get(flagID)
	if !ok {
		o.log.WithField("flag", flagID).Debug("Poll result for unknown flag, ignoring")
		return
	}

	o.log.WithFields(logrus.Fields{"flag": flag.ID, "name": flag.Name}).
		Info("Flagged item is available, broadcasting")

	o.clients.Broadcast(model.EventItemUpdate, model.ItemUpdate{
		FlagID:    flag.ID,
		Status:    model.StatusAvailable,
		Name:      flag.Name,
		Date:      flag.Date,
		ArticleID: flag.ArticleID,
	})
}
