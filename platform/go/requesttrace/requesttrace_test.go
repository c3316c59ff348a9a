package requesttrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/palmyra-provisioning/platform/go/auth"
)

func TestIntoContextAndFromContext(t *testing.T) {
	audit := AuditInfo{ActorKind: ActorKindAdmin, OperatorID: ptr("admin-123"), RequestID: "req-abc"}

	ctx := IntoContext(context.Background(), audit)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, audit, got)
}

func TestFromContextMissingFallsBackToSystem(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	audit := FromContextOrSystem(context.Background())
	require.Equal(t, ActorKindSystem, audit.ActorKind)
	require.Nil(t, audit.OperatorID)
}

func TestFromCredentials(t *testing.T) {
	audit, err := FromCredentials(&platformauth.OperatorCredentials{Id: "admin-456", IsAdmin: true}, "req-xyz")
	require.NoError(t, err)
	require.Equal(t, ActorKindAdmin, audit.ActorKind)
	require.Equal(t, "admin-456", *audit.OperatorID)
	require.Equal(t, "req-xyz", audit.RequestID)

	audit, err = FromCredentials(&platformauth.OperatorCredentials{Id: "viewer-1"}, "req-1")
	require.NoError(t, err)
	require.Equal(t, ActorKindOperator, audit.ActorKind)
}

func TestFromCredentialsMissingOperator(t *testing.T) {
	_, err := FromCredentials(&platformauth.OperatorCredentials{}, "req-1")
	require.Error(t, err)

	_, err = FromCredentials(nil, "req-1")
	require.Error(t, err)
}

func TestAnonymous(t *testing.T) {
	audit := Anonymous("req-anon")
	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
	require.Nil(t, audit.OperatorID)
	require.Equal(t, "req-anon", audit.RequestID)
}

func ptr[T any](v T) *T { return &v }
