package remotedb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ExecFunction is the SQL-executing RPC the REST gateway exposes on provisioned projects.
const ExecFunction = "exec_sql"

// RESTDialer talks to the project's PostgREST gateway with the service-role key.
type RESTDialer struct {
	HTTPClient *http.Client
}

func (d RESTDialer) Dial(_ context.Context, creds Credentials) (Client, error) {
	if _, err := projectHost(creds.ProjectURL); err != nil {
		return nil, err
	}
	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &restClient{
		http:    httpClient,
		baseURL: strings.TrimSuffix(creds.ProjectURL, "/") + "/rest/v1",
		key:     creds.ServiceRoleKey,
	}, nil
}

type restClient struct {
	http    *http.Client
	baseURL string
	key     string
}

func (c *restClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+ProbeRelation+"?select=*&limit=1", nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *restClient) Exec(ctx context.Context, sql string) error {
	body, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+ExecFunction, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *restClient) Close(context.Context) error {
	return nil
}

func (c *restClient) do(req *http.Request) error {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return decodeRemoteError(resp.StatusCode, raw)
}

func decodeRemoteError(status int, raw []byte) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || (body.Message == "" && body.Error == "") {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &RemoteError{Status: status, Message: msg}
	}

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	return &RemoteError{Status: status, Code: body.Code, Message: msg}
}

// IsUnauthorized reports whether err is a 401/403 from the gateway.
func IsUnauthorized(err error) bool {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Status == http.StatusUnauthorized || remoteErr.Status == http.StatusForbidden
	}
	return false
}
