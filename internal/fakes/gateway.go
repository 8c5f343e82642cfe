package fakes

import (
	"sync"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// Emission is one notification recorded by Gateway.
// Exactly one of ConnectionID or RoomID is set.
type Emission struct {
	ConnectionID string
	RoomID       string
	Event        types.Outbound
}

// Gateway records every emission and tracks group membership in memory
type Gateway struct {
	mu        sync.Mutex
	groups    map[string]map[string]bool
	missing   map[string]bool
	emissions []Emission
}

// NewGateway returns a gateway that treats every connection as live
func NewGateway() *Gateway {
	return &Gateway{
		groups:  make(map[string]map[string]bool),
		missing: make(map[string]bool),
	}
}

// Drop makes the connection unknown, as if its socket had closed
func (g *Gateway) Drop(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.missing[connectionID] = true
	for _, members := range g.groups {
		delete(members, connectionID)
	}
}

func (g *Gateway) JoinGroup(connectionID, roomID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.missing[connectionID] {
		return interfaces.ErrConnectionNotFound
	}
	if g.groups[roomID] == nil {
		g.groups[roomID] = make(map[string]bool)
	}
	g.groups[roomID][connectionID] = true
	return nil
}

func (g *Gateway) InGroup(connectionID, roomID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.groups[roomID][connectionID]
}

func (g *Gateway) EmitToConnection(connectionID string, event types.Outbound) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.missing[connectionID] {
		return interfaces.ErrConnectionNotFound
	}
	g.emissions = append(g.emissions, Emission{ConnectionID: connectionID, Event: event})
	return nil
}

func (g *Gateway) EmitToRoom(roomID string, event types.Outbound) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emissions = append(g.emissions, Emission{RoomID: roomID, Event: event})
	return nil
}

// Emissions returns everything emitted so far
func (g *Gateway) Emissions() []Emission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Emission(nil), g.emissions...)
}

// ToConnection returns the events emitted directly to a connection
func (g *Gateway) ToConnection(connectionID string) []types.Outbound {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []types.Outbound
	for _, e := range g.emissions {
		if e.ConnectionID == connectionID {
			out = append(out, e.Event)
		}
	}
	return out
}

// ToRoom returns the events emitted to a room
func (g *Gateway) ToRoom(roomID string) []types.Outbound {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []types.Outbound
	for _, e := range g.emissions {
		if e.RoomID == roomID {
			out = append(out, e.Event)
		}
	}
	return out
}

// Reset forgets recorded emissions but keeps group membership
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emissions = nil
}
