package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// NewRootCommand creates the `filegate` command and its nested children.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "filegate [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "HTTP upload gateway in front of an object store",
		Long: `filegate accepts archive uploads over HTTP, stores them in an object store
under sanitized, collision-free keys, and streams them back on request.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(NewServeCommand(NewServeOptions()))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
