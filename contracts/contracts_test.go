package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvisioningContractLoads(t *testing.T) {
	spec, err := Provisioning()
	require.NoError(t, err)

	require.NotNil(t, spec.Paths.Find("/provisioning/requests"))
	require.NotNil(t, spec.Paths.Find("/admin/provisioning/tasks/{taskId}/claim"))
	require.Contains(t, spec.Components.SecuritySchemes, "bearerAuth")
}

func TestProvisioningContractIsFreshPerCall(t *testing.T) {
	a, err := Provisioning()
	require.NoError(t, err)
	b, err := Provisioning()
	require.NoError(t, err)
	require.NotSame(t, a, b)
}
