package cli

import (
	"github.com/spf13/cobra"

	"github.com/charliek/stackscope/internal/constants"
)

// filterFlags binds record filter options to a command
type filterFlags struct {
	severities []string
	collapse   bool
	search     string
	regex      bool
	limit      int
}

func (f *filterFlags) register(cmd *cobra.Command, withLimit bool) {
	cmd.Flags().StringSliceVarP(&f.severities, "severity", "s", nil, "Severities to show (info,warning,error)")
	cmd.Flags().BoolVar(&f.collapse, "collapse", false, "Collapse identical records")
	cmd.Flags().StringVar(&f.search, "search", "", "Only records whose message contains this text")
	cmd.Flags().BoolVar(&f.regex, "regex", false, "Treat --search as a regular expression")
	if withLimit {
		cmd.Flags().IntVarP(&f.limit, "lines", "n", constants.DefaultRecordLimit, "Number of most recent records")
	}
}

func (f *filterFlags) params() RecordParams {
	return RecordParams{
		Severities: f.severities,
		Collapse:   f.collapse,
		Search:     f.search,
		Regex:      f.regex,
		Limit:      f.limit,
	}
}

// sessionArg returns the session named by the first argument, or the
// default session
func sessionArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return constants.DefaultSessionName
}

// clientCommand marks cmd as talking to a running server
func clientCommand(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[clientAnnotation] = "true"
	return cmd
}
