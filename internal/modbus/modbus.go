// Package modbus wraps the goburrow client with the connection management
// the rotor backends need: a reconnect loop, a poll callback, and a
// transparent HTTP tunnel for boards attached to another host.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"

	"github.com/w1xm/rotor_controller/internal/modbus/modbushttp"
)

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Client manages one Modbus connection. Set Port for a local serial
// board, or URL to tunnel ADUs through a remote mcb_server.
type Client struct {
	Port string
	// BaudRate defaults to 19200.
	BaudRate int
	SlaveId  byte
	URL      string

	// Poll is called in a loop while the connection is up; returning an
	// error drops the connection and retries after a second.
	Poll func() error

	handler handler
	modbus.Client
}

// Connect prepares the transport and starts the reconnect loop. The
// client is usable immediately; requests fail until the link is up.
func (c *Client) Connect(ctx context.Context) error {
	if c.URL != "" {
		c.handler = modbushttp.NewClient(c.URL)
	} else {
		h := modbus.NewRTUClientHandler(c.Port)
		h.BaudRate = c.BaudRate
		if h.BaudRate == 0 {
			h.BaudRate = 19200
		}
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.Timeout = time.Second
		h.SlaveId = c.SlaveId
		c.handler = h
	}
	c.Client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	target := c.URL
	if target == "" {
		target = c.Port
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		if err := c.handler.Connect(); err != nil {
			log.Printf("opening %q: %v", target, err)
			continue
		}
		if err := c.watch(ctx); err != nil {
			log.Printf("watching %q: %v", target, err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.Poll(); err != nil {
			return err
		}
	}
}
