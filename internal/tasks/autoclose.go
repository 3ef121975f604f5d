// Package tasks holds the background jobs that keep the pipeline tidy.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deskpipe-io/deskpipe/internal/events"
	"github.com/deskpipe-io/deskpipe/internal/queue"
	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// DefaultMaxResolvedAge is how long a RESOLVED ticket sits before
// auto-close.
const DefaultMaxResolvedAge = 5 * time.Minute

// AutoCloser periodically closes tickets that have been RESOLVED long
// enough that no reopen is expected.
type AutoCloser struct {
	Repo           store.Repository
	Queues         *queue.Manager
	Events         *events.Publisher
	Logger         *slog.Logger
	MaxResolvedAge time.Duration
}

// Start runs the sweep every minute until ctx is cancelled. Each cycle
// also broadcasts fresh queue depth stats to subscribers.
func (a *AutoCloser) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		a.Sweep(time.Now().UTC())
		if a.Events != nil {
			a.Events.QueueStats(a.Queues.AllStats())
		}
	})
	if err != nil {
		return fmt.Errorf("tasks: schedule auto-close: %w", err)
	}

	c.Start()
	a.logger().Info("auto-close task started", "max_resolved_age", a.maxAge().String())
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep closes every RESOLVED ticket older than the cutoff. One bad
// ticket never aborts the rest of the sweep.
func (a *AutoCloser) Sweep(now time.Time) int {
	resolved, err := a.Repo.Find(store.Filter{Status: ticket.StatusResolved})
	if err != nil {
		a.logger().Error("auto-close scan failed", "error", err)
		return 0
	}

	cutoff := now.Add(-a.maxAge())
	closed := 0
	for _, t := range resolved {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		if err := a.closeOne(t); err != nil {
			a.logger().Warn("auto-close failed", "ticket_id", t.ID, "error", err)
			continue
		}
		closed++
	}
	if closed > 0 {
		a.logger().Info("auto-close sweep finished", "closed", closed)
	}
	return closed
}

func (a *AutoCloser) closeOne(t *ticket.Ticket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := t.Close(); err != nil {
		return err
	}
	if err := a.Repo.Save(t); err != nil {
		return err
	}
	a.Queues.RemoveFromQueue(t.ID)
	if a.Events != nil {
		a.Events.TicketUpdated(t, []string{"status"})
		a.Events.TicketClosed(t)
	}
	a.logger().Info("ticket auto-closed", "ticket_id", t.ID)
	return nil
}

func (a *AutoCloser) maxAge() time.Duration {
	if a.MaxResolvedAge > 0 {
		return a.MaxResolvedAge
	}
	return DefaultMaxResolvedAge
}

func (a *AutoCloser) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
