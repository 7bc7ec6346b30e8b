package mqtt

import (
	"strings"
	"sync"
)

// Handler receives messages for a subscribed filter. It is called on
// the connection's receive goroutine and must not block.
type Handler func(topic string, payload []byte)

// Match reports whether topic matches an MQTT topic filter with "+"
// (one level) and "#" (remaining levels) wildcards. Topics starting
// with "$" only match filters that name that level explicitly.
func Match(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

type route struct {
	id      int
	filter  string
	handler Handler
}

// router dispatches inbound messages to every handler whose filter
// matches.
type router struct {
	mu     sync.RWMutex
	nextID int
	routes []route
}

// add registers h and returns its id for removal.
func (r *router) add(filter string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.routes = append(r.routes, route{id: r.nextID, filter: filter, handler: h})
	return r.nextID
}

// remove drops the route with id and reports whether other routes
// still use its filter.
func (r *router) remove(id int) (filter string, inUse bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rt := range r.routes {
		if rt.id == id {
			filter = rt.filter
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			break
		}
	}
	for _, rt := range r.routes {
		if rt.filter == filter {
			return filter, true
		}
	}
	return filter, false
}

// filters returns the distinct registered filters.
func (r *router) filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.routes))
	var out []string
	for _, rt := range r.routes {
		if !seen[rt.filter] {
			seen[rt.filter] = true
			out = append(out, rt.filter)
		}
	}
	return out
}

// dispatch delivers a message and returns how many handlers received it.
func (r *router) dispatch(topic string, payload []byte) int {
	r.mu.RLock()
	var hs []Handler
	for _, rt := range r.routes {
		if Match(rt.filter, topic) {
			hs = append(hs, rt.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(topic, payload)
	}
	return len(hs)
}
