// Package clients tracks the window clients (open pages) a worker can see
// and control.
package clients

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rohmanhakim/gravity-worker/internal/metadata"
)

// Client is an open page of the app.
type Client struct {
	ID         string
	URL        string
	// Controller is the worker version serving the page, empty when the
	// page is uncontrolled.
	Controller string
	Focused    bool
	seq        uint64
}

type Registry struct {
	mu           sync.RWMutex
	clients      map[string]Client
	next         uint64
	metadataSink metadata.MetadataSink
	newID        func() string
}

func NewRegistry(metadataSink metadata.MetadataSink) *Registry {
	return &Registry{
		clients:      make(map[string]Client),
		metadataSink: metadataSink,
		newID:        uuid.NewString,
	}
}

// Register adds a page that loaded rawURL. New pages are uncontrolled until
// a worker claims them.
func (r *Registry) Register(rawURL string) (Client, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return Client{}, fmt.Errorf("register client: %w", err)
	}
	r.mu.Lock()
	r.next++
	c := Client{
		ID:  r.newID(),
		URL: rawURL,
		seq: r.next,
	}
	r.clients[c.ID] = c
	r.mu.Unlock()

	r.metadataSink.RecordNotice("client registered", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrClient, c.ID),
		metadata.NewAttr(metadata.AttrURL, rawURL),
	})
	return c, nil
}

// Unregister forgets a closed page.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	return ok
}

// Claim makes version the controller of every registered page and returns
// how many changed hands.
func (r *Registry) Claim(version string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimed := 0
	for id, c := range r.clients {
		if c.Controller != version {
			c.Controller = version
			r.clients[id] = c
			claimed++
		}
	}
	return claimed
}

// MatchAll lists window clients in the order they were opened.
func (r *Registry) MatchAll() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

// Controlled lists the pages served by version.
func (r *Registry) Controlled(version string) []Client {
	var out []Client
	for _, c := range r.MatchAll() {
		if c.Controller == version {
			out = append(out, c)
		}
	}
	return out
}

// Focus gives id the focus and takes it from every other page.
func (r *Registry) Focus(id string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.clients[id]
	if !ok {
		return Client{}, false
	}
	for cid, c := range r.clients {
		c.Focused = cid == id
		r.clients[cid] = c
	}
	target.Focused = true
	return target, true
}

// OpenWindow opens a new focused page at rawURL.
func (r *Registry) OpenWindow(rawURL string) (Client, error) {
	c, err := r.Register(rawURL)
	if err != nil {
		return Client{}, err
	}
	focused, _ := r.Focus(c.ID)
	return focused, nil
}
