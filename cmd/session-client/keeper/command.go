package keeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-client/internal/business"
	"github.com/openkcm/session-client/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"keeper",
		"Session Client keeper",
		"Session Client keeper establishes a session and keeps it alive by probing protected endpoints",
		buildInfo,
		cmdutils.RunAsService,
		business.KeeperMain,
	)
}
