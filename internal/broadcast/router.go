package broadcast

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// Channel names are part of the wire contract with clients
const (
	RouteChannelPrefix = "route_"
	ChannelAllVehicles = "all_buses"
	ChannelAdmin       = "admin_updates"
)

// Event names sent to clients
const (
	EventVehicleUpdate = "vehicle.update"
	EventJoined        = "joined"
	EventError         = "error"
)

// RouteChannel returns the channel name for a route
func RouteChannel(routeID string) string {
	return RouteChannelPrefix + routeID
}

// SelectorKind says which kind of channel a join request targets
type SelectorKind int

const (
	SelectUnknown SelectorKind = iota
	SelectRoute
	SelectAll
	SelectAdmin
)

// Selector identifies one channel a subscriber wants to join
type Selector struct {
	Kind    SelectorKind
	RouteID string // only for SelectRoute
}

// RouteSelector selects the channel of a single route
func RouteSelector(routeID string) Selector {
	return Selector{Kind: SelectRoute, RouteID: routeID}
}

// AllSelector selects the all-vehicles channel
func AllSelector() Selector {
	return Selector{Kind: SelectAll}
}

// AdminSelector selects the admin channel
func AdminSelector() Selector {
	return Selector{Kind: SelectAdmin}
}

// Channel resolves the selector to a channel name. ok is false for
// unknown kinds and route selectors without a route id.
func (s Selector) Channel() (name string, ok bool) {
	switch s.Kind {
	case SelectRoute:
		if s.RouteID == "" {
			return "", false
		}
		return RouteChannel(s.RouteID), true
	case SelectAll:
		return ChannelAllVehicles, true
	case SelectAdmin:
		return ChannelAdmin, true
	default:
		return "", false
	}
}

// Subscriber is one connected client as seen by the router.
// Deliver must not block; an error means the client is gone or too slow.
type Subscriber interface {
	ID() string
	Deliver(msg []byte) error
}

// Message is the server -> client frame
type Message struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Router fans update events out to channel members. A subscriber may be a
// member of several channels; membership lives until Leave or a failed delivery.
type Router struct {
	mu          sync.RWMutex
	channels    map[string]map[string]Subscriber // channel -> subscriber id -> subscriber
	memberships map[string]map[string]struct{}   // subscriber id -> channels
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		channels:    make(map[string]map[string]Subscriber),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join adds sub to the selected channel. It returns the channel name and
// false when the selector is unknown, in which case nothing changes.
func (r *Router) Join(sub Subscriber, sel Selector) (string, bool) {
	name, ok := sel.Channel()
	if !ok {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.channels[name]
	if !exists {
		members = make(map[string]Subscriber)
		r.channels[name] = members
	}
	members[sub.ID()] = sub

	joined, exists := r.memberships[sub.ID()]
	if !exists {
		joined = make(map[string]struct{})
		r.memberships[sub.ID()] = joined
	}
	joined[name] = struct{}{}

	return name, true
}

// Leave removes sub from every channel it joined and returns how many
// memberships were dropped
func (r *Router) Leave(sub Subscriber) int {
	return r.leave(sub.ID())
}

func (r *Router) leave(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.memberships[id]
	for name := range joined {
		members := r.channels[name]
		delete(members, id)
		if len(members) == 0 {
			delete(r.channels, name)
		}
	}
	delete(r.memberships, id)
	return len(joined)
}

// Publish delivers event to its route channel, the all-vehicles channel and
// the admin channel. Each delivery is independent and at-most-once. It
// returns the number of successful deliveries.
func (r *Router) Publish(event models.UpdateEvent) int {
	delivered := 0
	var failed []string

	for _, name := range []string{RouteChannel(event.RouteID), ChannelAllVehicles, ChannelAdmin} {
		members := r.snapshot(name)
		if len(members) == 0 {
			continue
		}

		payload, err := json.Marshal(Message{Event: EventVehicleUpdate, Channel: name, Data: event})
		if err != nil {
			log.Printf("Router: failed to encode event for %s: %v", name, err)
			continue
		}

		for _, sub := range members {
			if err := sub.Deliver(payload); err != nil {
				failed = append(failed, sub.ID())
				continue
			}
			delivered++
		}
	}

	for _, id := range failed {
		if dropped := r.leave(id); dropped > 0 {
			log.Printf("Router: dropped subscriber %s (%d channels) after failed delivery", id, dropped)
		}
	}
	return delivered
}

// snapshot copies a channel's members so delivery happens without the lock
func (r *Router) snapshot(name string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[name]
	out := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		out = append(out, sub)
	}
	return out
}

// Channels returns the sorted channel names sub currently belongs to
func (r *Router) Channels(sub Subscriber) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.memberships[sub.ID()]))
	for name := range r.memberships[sub.ID()] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns member counts per channel
func (r *Router) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]int, len(r.channels))
	for name, members := range r.channels {
		stats[name] = len(members)
	}
	return stats
}

// Subscribers returns the number of subscribers with at least one membership
func (r *Router) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.memberships)
}
