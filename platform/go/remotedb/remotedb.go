// Package remotedb talks to customer-owned database projects during credential intake
// and migration. Every call runs against infrastructure we do not control, so callers
// are expected to bound each call with a context deadline.
package remotedb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ProbeRelation is queried by Probe. It never exists on a fresh project, so the
// "relation does not exist" answer proves both authentication and reachability.
const ProbeRelation = "_palmyra_probe"

// Credentials are the plaintext connection secrets for one customer project.
// Values only live in memory for the duration of a probe or a migration run.
type Credentials struct {
	ProjectRef     string
	ProjectURL     string
	AnonKey        string
	ServiceRoleKey string
	DBPassword     string
	Region         string
}

// Client executes schema changes against one remote project.
type Client interface {
	// Exec applies a SQL fragment as a single opaque unit.
	Exec(ctx context.Context, sql string) error
	// Probe issues a lightweight query with the service-role credential.
	Probe(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a Client for a set of credentials.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, creds Credentials) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, creds Credentials) (Client, error) {
	return f(ctx, creds)
}

// RemoteError is a failure reported by the remote project's REST gateway.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Message)
}

// relationMissingMessage is the Postgres wording for 42P01 when a gateway drops the code.
var relationMissingMessage = regexp.MustCompile(`^relation "[^"]+" does not exist$`)

// IsRelationMissing reports whether err means the queried table does not exist.
// Other "does not exist" answers (unknown role, unknown route) do not count.
func IsRelationMissing(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		switch remoteErr.Code {
		case "42P01", "PGRST205":
			return true
		case "":
			return remoteErr.Status == http.StatusNotFound &&
				relationMissingMessage.MatchString(strings.TrimSpace(remoteErr.Message))
		}
	}

	return false
}

// ProbeOutcome runs Probe and folds a missing-relation answer into success.
func ProbeOutcome(ctx context.Context, client Client) error {
	err := client.Probe(ctx)
	if err == nil || IsRelationMissing(err) {
		return nil
	}
	return err
}

// AutoDialer probes through the REST gateway with the service-role key in every case.
// When a database password is supplied, schema changes run over a direct Postgres
// connection instead of the gateway.
type AutoDialer struct {
	Direct Dialer
	REST   Dialer
}

func (d AutoDialer) Dial(ctx context.Context, creds Credentials) (Client, error) {
	if d.REST == nil {
		return nil, errors.New("remotedb: no dialer configured")
	}
	rest, err := d.REST.Dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	if creds.DBPassword == "" || d.Direct == nil {
		return rest, nil
	}

	direct, err := d.Direct.Dial(ctx, creds)
	if err != nil {
		_ = rest.Close(ctx)
		return nil, err
	}
	return &splitClient{exec: direct, probe: rest}, nil
}

// splitClient sends Exec and Probe to different connections.
type splitClient struct {
	exec  Client
	probe Client
}

func (c *splitClient) Exec(ctx context.Context, sql string) error {
	return c.exec.Exec(ctx, sql)
}

func (c *splitClient) Probe(ctx context.Context) error {
	return c.probe.Probe(ctx)
}

func (c *splitClient) Close(ctx context.Context) error {
	return errors.Join(c.exec.Close(ctx), c.probe.Close(ctx))
}

func projectHost(projectURL string) (string, error) {
	u, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("parse project url: %w", err)
	}
	if u.Hostname() == "" {
		return "", errors.New("project url has no host")
	}
	return u.Hostname(), nil
}
