package catalog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListRendersDefaultCatalog(t *testing.T) {
	var out bytes.Buffer
	cmd := Command()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "KEY")
	require.Contains(t, out.String(), "crm")
	require.Contains(t, out.String(), "contacts, deals")
}
