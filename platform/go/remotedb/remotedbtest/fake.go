// Package remotedbtest provides an in-memory remotedb.Client for tests.
package remotedbtest

import (
	"context"
	"sync"

	"github.com/zenGate-Global/palmyra-provisioning/platform/go/remotedb"
)

// Client records every executed statement. FailExec decides per statement whether to fail.
type Client struct {
	mu       sync.Mutex
	ProbeErr error
	FailExec func(sql string) error
	executed []string
	closed   bool
}

func (c *Client) Exec(ctx context.Context, sql string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailExec != nil {
		if err := c.FailExec(sql); err != nil {
			return err
		}
	}
	c.executed = append(c.executed, sql)
	return nil
}

func (c *Client) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ProbeErr
}

func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Executed returns the statements applied so far.
func (c *Client) Executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer hands out Client, or fails with DialErr.
type Dialer struct {
	Client  *Client
	DialErr error

	mu    sync.Mutex
	dials []remotedb.Credentials
}

func (d *Dialer) Dial(ctx context.Context, creds remotedb.Credentials) (remotedb.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, creds)
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Client == nil {
		d.Client = &Client{}
	}
	return d.Client, nil
}

// Dials returns the credentials of every Dial call.
func (d *Dialer) Dials() []remotedb.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]remotedb.Credentials(nil), d.dials...)
}
