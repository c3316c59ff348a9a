package remotedb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const testServiceKey = "service-role-key-0123456789abcdef"

func dialTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := RESTDialer{HTTPClient: srv.Client()}.Dial(context.Background(), Credentials{
		ProjectURL:     srv.URL,
		ServiceRoleKey: testServiceKey,
	})
	require.NoError(t, err)
	return client
}

func TestRESTProbeTreatsMissingRelationAsSuccess(t *testing.T) {
	client := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/"+ProbeRelation, r.URL.Path)
		require.Equal(t, "Bearer "+testServiceKey, r.Header.Get("Authorization"))
		require.Equal(t, testServiceKey, r.Header.Get("apikey"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"42P01","message":"relation \"public._palmyra_probe\" does not exist"}`))
	})

	err := client.Probe(context.Background())
	require.Error(t, err)
	require.True(t, IsRelationMissing(err))
	require.NoError(t, ProbeOutcome(context.Background(), client))
}

func TestRESTProbeSchemaCacheMiss(t *testing.T) {
	client := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"PGRST205","message":"Could not find the table in the schema cache"}`))
	})

	require.NoError(t, ProbeOutcome(context.Background(), client))
}

func TestRESTProbeRejectedKey(t *testing.T) {
	client := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid API key"}`))
	})

	err := ProbeOutcome(context.Background(), client)
	require.Error(t, err)
	require.True(t, IsUnauthorized(err))
	require.False(t, IsRelationMissing(err))
}

func TestRESTProbeOnlyAcceptsMissingRelation(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		ok     bool
	}{
		{
			name:   "relation message without code",
			status: http.StatusNotFound,
			body:   `{"message":"relation \"public._palmyra_probe\" does not exist"}`,
			ok:     true,
		},
		{
			name:   "unknown role",
			status: http.StatusUnauthorized,
			body:   `{"code":"42704","message":"role \"service_rolex\" does not exist"}`,
		},
		{
			name:   "role message without code",
			status: http.StatusUnauthorized,
			body:   `{"message":"role \"service_rolex\" does not exist"}`,
		},
		{
			name:   "plain text page",
			status: http.StatusNotFound,
			body:   "The requested page does not exist",
		},
		{
			name:   "relation wording on a rejected key",
			status: http.StatusForbidden,
			body:   `{"message":"relation \"public._palmyra_probe\" does not exist"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			err := ProbeOutcome(context.Background(), client)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			var remoteErr *RemoteError
			require.ErrorAs(t, err, &remoteErr)
			require.Equal(t, tc.status, remoteErr.Status)
		})
	}
}

func TestRESTExecPostsSQL(t *testing.T) {
	var got string
	client := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/v1/rpc/"+ExecFunction, r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body["sql"]
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Exec(context.Background(), "CREATE TABLE t (id int);"))
	require.Equal(t, "CREATE TABLE t (id int);", got)
}

func TestRESTExecSurfacesPlainTextErrors(t *testing.T) {
	client := dialTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	})

	err := client.Exec(context.Background(), "SELECT 1")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, http.StatusBadGateway, remoteErr.Status)
	require.Equal(t, "upstream unavailable", remoteErr.Message)
}

type recordingClient struct {
	name  string
	calls *[]string
}

func (c recordingClient) Exec(context.Context, string) error {
	*c.calls = append(*c.calls, c.name+".exec")
	return nil
}

func (c recordingClient) Probe(context.Context) error {
	*c.calls = append(*c.calls, c.name+".probe")
	return nil
}

func (c recordingClient) Close(context.Context) error {
	*c.calls = append(*c.calls, c.name+".close")
	return nil
}

func TestAutoDialerProbesWithServiceRoleKey(t *testing.T) {
	var calls []string
	d := AutoDialer{
		Direct: DialerFunc(func(context.Context, Credentials) (Client, error) {
			return recordingClient{name: "direct", calls: &calls}, nil
		}),
		REST: DialerFunc(func(context.Context, Credentials) (Client, error) {
			return recordingClient{name: "rest", calls: &calls}, nil
		}),
	}
	ctx := context.Background()

	client, err := d.Dial(ctx, Credentials{DBPassword: "secret"})
	require.NoError(t, err)
	require.NoError(t, client.Probe(ctx))
	require.NoError(t, client.Exec(ctx, "SELECT 1"))
	require.NoError(t, client.Close(ctx))
	require.Equal(t, []string{"rest.probe", "direct.exec", "direct.close", "rest.close"}, calls)

	calls = nil
	client, err = d.Dial(ctx, Credentials{})
	require.NoError(t, err)
	require.NoError(t, client.Probe(ctx))
	require.NoError(t, client.Exec(ctx, "SELECT 1"))
	require.Equal(t, []string{"rest.probe", "rest.exec"}, calls)
}

func TestAutoDialerClosesGatewayWhenDirectDialFails(t *testing.T) {
	var calls []string
	d := AutoDialer{
		Direct: DialerFunc(func(context.Context, Credentials) (Client, error) {
			return nil, errors.New("password authentication failed")
		}),
		REST: DialerFunc(func(context.Context, Credentials) (Client, error) {
			return recordingClient{name: "rest", calls: &calls}, nil
		}),
	}

	_, err := d.Dial(context.Background(), Credentials{DBPassword: "wrong"})
	require.ErrorContains(t, err, "password authentication failed")
	require.Equal(t, []string{"rest.close"}, calls)
}

func TestRESTDialerRejectsBadURL(t *testing.T) {
	_, err := RESTDialer{}.Dial(context.Background(), Credentials{ProjectURL: "::not a url"})
	require.Error(t, err)
}
