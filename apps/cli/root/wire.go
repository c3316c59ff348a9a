package root

import (
	"github.com/zenGate-Global/palmyra-provisioning/apps/cli/cmd/auth"
	"github.com/zenGate-Global/palmyra-provisioning/apps/cli/cmd/catalog"
	"github.com/zenGate-Global/palmyra-provisioning/apps/cli/cmd/migrate"
	"github.com/zenGate-Global/palmyra-provisioning/apps/cli/cmd/queue"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(migrate.Command())
	Root().AddCommand(queue.Command())
	Root().AddCommand(catalog.Command())
}
