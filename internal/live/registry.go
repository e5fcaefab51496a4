package live

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
)

// Event is one attributed fill broadcast to live-match watchers.
type Event struct {
	MatchID    string    `json:"match_id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Amount     string    `json:"amount"`
	Price      string    `json:"price"`
	ExecutedAt time.Time `json:"executed_at"`
}

type subscription struct {
	matchID string
	ch      chan Event
}

type command struct {
	event       *Event
	subscribe   *subscription
	unsubscribe *subscription
}

// Registry fans attributed-fill events out to per-match subscribers. All
// state lives inside the Run goroutine; callers talk to it exclusively
// through the command channel, so there is no shared mutable map.
type Registry struct {
	Logger *zap.Logger

	commands chan command
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		Logger:   logger,
		commands: make(chan command, 256),
	}
}

// Run owns the subscriber map until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	if r == nil {
		return
	}
	subscribers := make(map[string]map[chan Event]struct{})
	for {
		select {
		case <-ctx.Done():
			for _, subs := range subscribers {
				for ch := range subs {
					close(ch)
				}
			}
			return
		case cmd := <-r.commands:
			switch {
			case cmd.subscribe != nil:
				subs, ok := subscribers[cmd.subscribe.matchID]
				if !ok {
					subs = make(map[chan Event]struct{})
					subscribers[cmd.subscribe.matchID] = subs
				}
				subs[cmd.subscribe.ch] = struct{}{}
			case cmd.unsubscribe != nil:
				subs := subscribers[cmd.unsubscribe.matchID]
				if _, ok := subs[cmd.unsubscribe.ch]; ok {
					delete(subs, cmd.unsubscribe.ch)
					close(cmd.unsubscribe.ch)
				}
				if len(subs) == 0 {
					delete(subscribers, cmd.unsubscribe.matchID)
				}
			case cmd.event != nil:
				for ch := range subscribers[cmd.event.MatchID] {
					select {
					case ch <- *cmd.event:
					default:
						// Slow watcher; drop rather than stall the loop.
					}
				}
			}
		}
	}
}

// FillAttributed publishes a fill to the match's watchers. Never blocks the
// ingestion path: if the registry is saturated the event is dropped.
func (r *Registry) FillAttributed(matchID string, fill models.AttributedFill) {
	if r == nil {
		return
	}
	event := Event{
		MatchID:    matchID,
		UserID:     fill.UserID,
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Amount:     fill.Amount.String(),
		Price:      fill.Price.String(),
		ExecutedAt: fill.ExecutedAt,
	}
	select {
	case r.commands <- command{event: &event}:
	default:
		if r.Logger != nil {
			r.Logger.Warn("live registry saturated, dropping event",
				zap.String("match_id", matchID))
		}
	}
}

// Subscribe registers a watcher for one match. The returned cancel function
// must be called when the watcher goes away.
func (r *Registry) Subscribe(matchID string, buffer int) (<-chan Event, func()) {
	if r == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{matchID: matchID, ch: make(chan Event, buffer)}
	r.commands <- command{subscribe: sub}
	cancel := func() {
		r.commands <- command{unsubscribe: sub}
	}
	return sub.ch, cancel
}
