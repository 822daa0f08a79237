package whoami

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-client/internal/business"
	"github.com/openkcm/session-client/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"whoami",
		"Print the authenticated user",
		"Establishes a session, from the session reference or the configured credentials, and prints the identity behind it",
		buildInfo,
		cmdutils.RunAsJob,
		business.WhoAmIMain,
	)
}
