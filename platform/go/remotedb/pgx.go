package remotedb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// PgxDialer connects to db.<projectRef>.<domain> as the postgres role.
type PgxDialer struct {
	HostingDomain  string
	ConnectTimeout time.Duration
}

func (d PgxDialer) Dial(ctx context.Context, creds Credentials) (Client, error) {
	host := fmt.Sprintf("db.%s.%s", creds.ProjectRef, strings.TrimPrefix(d.HostingDomain, "."))

	cfg, err := pgx.ParseConfig(fmt.Sprintf("host=%s port=5432 dbname=postgres user=postgres sslmode=require", host))
	if err != nil {
		return nil, fmt.Errorf("build remote config: %w", err)
	}
	cfg.Password = creds.DBPassword
	if d.ConnectTimeout > 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", host, err)
	}
	return &pgxClient{conn: conn}, nil
}

type pgxClient struct {
	conn *pgx.Conn
}

// Exec without arguments goes through the simple protocol so multi-statement fragments work.
func (c *pgxClient) Exec(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)
	return err
}

func (c *pgxClient) Probe(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "SELECT 1 FROM "+pgx.Identifier{ProbeRelation}.Sanitize()+" LIMIT 1")
	return err
}

func (c *pgxClient) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
