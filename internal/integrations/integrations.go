// Package integrations holds stand-ins for the email/SMS gateway and the
// doctors' calendar provider, good enough to run the service end to end.
package integrations

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/saga"
)

// LogNotifier "sends" messages by logging them. Recipients are logged
// under redacted keys.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notifier")}
}

func (n *LogNotifier) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("send email %q: no recipient", subject)
	}
	n.log.Info("email sent", "email", to, "subject", subject, "length", len(body))
	return nil
}

func (n *LogNotifier) SendSMS(ctx context.Context, to, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("send sms: no recipient")
	}
	n.log.Info("sms sent", "phone", to, "length", len(message))
	return nil
}

// MemoryCalendar keeps one calendar per owner in memory.
type MemoryCalendar struct {
	mu        sync.Mutex
	calendars map[string]map[string]saga.CalendarEntry
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{calendars: make(map[string]map[string]saga.CalendarEntry)}
}

func (c *MemoryCalendar) AddEvent(_ context.Context, ownerID string, entry saga.CalendarEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, ok := c.calendars[ownerID]
	if !ok {
		cal = make(map[string]saga.CalendarEntry)
		c.calendars[ownerID] = cal
	}
	if _, exists := cal[entry.ID]; exists {
		return fmt.Errorf("calendar %s already has entry %s", ownerID, entry.ID)
	}
	cal[entry.ID] = entry
	return nil
}

// RemoveEvent is idempotent so a compensation may run after a partial add.
func (c *MemoryCalendar) RemoveEvent(_ context.Context, ownerID, entryID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calendars[ownerID], entryID)
	return nil
}

func (c *MemoryCalendar) UpdateEvent(_ context.Context, ownerID string, entry saga.CalendarEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, ok := c.calendars[ownerID]
	if !ok {
		cal = make(map[string]saga.CalendarEntry)
		c.calendars[ownerID] = cal
	}
	cal[entry.ID] = entry
	return nil
}

// Entries returns an owner's entries ordered by start time.
func (c *MemoryCalendar) Entries(ownerID string) []saga.CalendarEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]saga.CalendarEntry, 0, len(c.calendars[ownerID]))
	for _, e := range c.calendars[ownerID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
