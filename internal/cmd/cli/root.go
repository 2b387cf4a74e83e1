package cli

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the root command and registers the journal, queue and
// health command groups.
func NewRoot() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "flobus",
		Short:         "flobus message bus CLI",
		Long:          "flobus runs durable message queues and an append-only message journal on an embedded or external store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.bindFlags(root)
	root.AddCommand(
		newJournalCommand(a),
		newQueueCommand(a),
		newHealthCommand(a),
	)
	return root
}
