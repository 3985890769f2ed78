// Package sqldriver exposes sessions through database/sql.
//
// The driver has no connection-string form. Connections are built from a
// transport factory, so the entry point is sql.OpenDB:
//
//	db := sql.OpenDB(sqldriver.NewConnector(factory, nil))
//
// Statements use the client's positional placeholder syntax (:0, :1, ...).
// Parameters may be plain Go values, or protocol.TypedValue wrappers when
// the wire type matters.
package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/tabstream/go-tabstream/client"
	"github.com/tabstream/go-tabstream/transport"
)

func init() {
	sql.Register("tabstream", &Driver{})
}

// Driver implements driver.Driver. It exists so the driver name is
// registered; opening by DSN is not supported.
type Driver struct{}

// Open always fails: there is no connection-string form of a session.
func (d *Driver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("tabstream: no connection-string support; build connections with sql.OpenDB(sqldriver.NewConnector(...))")
}

// Connector builds sessions from a transport factory. It implements
// driver.Connector for use with sql.OpenDB.
type Connector struct {
	factory transport.Factory
	opts    *client.SessionOptions
	driver  Driver
}

// NewConnector returns a Connector over the given transport factory.
// A nil opts uses client.DefaultOptions.
func NewConnector(factory transport.Factory, opts *client.SessionOptions) *Connector {
	if opts == nil {
		defaults := client.DefaultOptions()
		opts = &defaults
	}
	return &Connector{factory: factory, opts: opts}
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	s, err := client.Connect(ctx, c.factory, c.opts)
	if err != nil {
		return nil, err
	}
	return &conn{session: s}, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &c.driver
}
