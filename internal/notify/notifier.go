// Package notify delivers operator alerts for trading events. Alerts are
// fanned out to all registered senders (Telegram, Discord) and can be
// filtered by event kind so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// Event kinds recognized by the notifier filter.
const (
	EventOrderSubmitted = "order_submitted"
	EventOrderFilled    = "order_filled"
	EventOrderCancelled = "order_cancelled"
	EventOrderExpired   = "order_expired"
	EventOrderAdjusted  = "order_adjusted"
	EventOrderAmbiguous = "order_ambiguous"
	EventTradeCompleted = "trade_completed"
	EventDataGapHealed  = "data_gap_healed"
	EventCapacity       = "capacity"
	EventFatal          = "fatal"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event kinds; Notify only forwards messages whose kind is in
// the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event kinds
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose kind appears in the events slice are forwarded by Notify. If
// events is empty, all kinds are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event kind is in the
// allowed list. If no kinds were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event kind.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyOrder formats an order lifecycle alert and forwards it under the
// given event kind.
func (n *Notifier) NotifyOrder(ctx context.Context, event string, o domain.Order, reason string) error {
	title := fmt.Sprintf("%s %s %s", strings.ToUpper(string(o.Side)), o.Code, strings.ReplaceAll(event, "_", " "))
	msg := fmt.Sprintf("order %s\nbroker %s\nqty %d filled %d remaining %d\nlimit %.0f",
		o.ID, o.BrokerID, o.Quantity, o.Filled, o.Remaining, o.LimitPrice)
	if reason != "" {
		msg += "\nreason: " + reason
	}
	return n.Notify(ctx, event, title, msg)
}

// NotifyTrade formats a completed round-trip alert.
func (n *Notifier) NotifyTrade(ctx context.Context, rec domain.TradeRecord) error {
	title := fmt.Sprintf("TRADE %s closed", rec.Code)
	msg := fmt.Sprintf("qty %d buy %.0f sell %.0f\npnl %.0f (%.2f%%)",
		rec.Quantity, rec.BuyPrice, rec.SellPrice, rec.RealizedPnL, rec.ReturnPct*100)
	return n.Notify(ctx, EventTradeCompleted, title, msg)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
