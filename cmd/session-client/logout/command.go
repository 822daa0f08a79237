package logout

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-client/internal/business"
	"github.com/openkcm/session-client/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"logout",
		"Revoke the session",
		"Revokes the server-side session held by the session reference",
		buildInfo,
		cmdutils.RunAsJob,
		business.LogoutMain,
	)
}
