package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	raw, err := json.Marshal(claims)
	require.NoError(t, err)
	return "header." + base64.RawURLEncoding.EncodeToString(raw) + ".sig"
}

func TestDefaultCredentialExtractor(t *testing.T) {
	testCases := []struct {
		name      string
		claims    map[string]interface{}
		wantID    string
		wantAdmin bool
		wantErr   bool
	}{
		{
			name:      "admin flag",
			claims:    map[string]interface{}{"uid": "op-1", "isAdmin": true},
			wantID:    "op-1",
			wantAdmin: true,
		},
		{
			name:      "admin role",
			claims:    map[string]interface{}{"sub": "op-2", "palmyraRoles": []interface{}{"viewer", "admin"}},
			wantID:    "op-2",
			wantAdmin: true,
		},
		{
			name:   "non admin",
			claims: map[string]interface{}{"user_id": "op-3"},
			wantID: "op-3",
		},
		{
			name:    "missing subject",
			claims:  map[string]interface{}{"isAdmin": true},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			creds, err := DefaultCredentialExtractor(tc.claims)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantID, creds.Id)
			require.Equal(t, tc.wantAdmin, creds.IsAdmin)
		})
	}
}

func TestJWTAndRequireAdmin(t *testing.T) {
	handler := JWT(UnsignedTokenVerifier(), nil)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, ok := OperatorFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, "op-1", creds.Id)
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "non admin", token: unsignedToken(t, map[string]interface{}{"uid": "op-2"}), status: http.StatusForbidden},
		{name: "admin", token: unsignedToken(t, map[string]interface{}{"uid": "op-1", "isAdmin": true}), status: http.StatusNoContent},
		{name: "garbage", token: "not-a-jwt", status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestExtractJWTTokenIsCaseInsensitive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc.def")
	token, ok := ExtractJWTToken(req)
	require.True(t, ok)
	require.Equal(t, "abc.def", token)
}
