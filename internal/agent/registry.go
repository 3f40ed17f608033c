package agent

import (
	"errors"
	"fmt"
)

// ErrUnknownMover is returned by Get for an ID nothing was registered under.
var ErrUnknownMover = errors.New("agent: unknown mover")

// Info describes an available mover for listing surfaces.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registry holds the configured movers, selectable by ID. Concrete agents
// are interchangeable implementations picked by configuration, never by
// type.
type Registry struct {
	order  []string
	movers map[string]Mover
}

// NewRegistry builds a registry from movers in listing order. A duplicated
// ID is a configuration bug and panics at startup.
func NewRegistry(movers ...Mover) *Registry {
	r := &Registry{movers: make(map[string]Mover, len(movers))}
	for _, m := range movers {
		if _, dup := r.movers[m.ID()]; dup {
			panic(fmt.Sprintf("agent: duplicate mover id %q", m.ID()))
		}
		r.movers[m.ID()] = m
		r.order = append(r.order, m.ID())
	}
	return r
}

// Get returns the mover registered under id.
func (r *Registry) Get(id string) (Mover, error) {
	m, ok := r.movers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMover, id)
	}
	return m, nil
}

// List returns the registered movers in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Info{ID: id, Name: r.movers[id].Name()})
	}
	return out
}
