package core

import "sync"

// Event is a named payload pushed to a live connection.
type Event struct {
	Name    string
	Payload any
}

// Client is a live connection as seen by the core layer. The transport owns
// the socket; the hub delivers events through the Events channel and signals
// a forced close through Done.
type Client struct {
	ID     string
	Events chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Events: make(chan *Event, 32),
		done:   make(chan struct{}),
	}
}

// Done is closed when the server force-disconnects the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
