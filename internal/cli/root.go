// internal/cli/root.go
package cli

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"libracirc/internal/clients"
)

const defaultAPI = "http://localhost:8082/api/v1"

// RootOptions holds the global flags.
type RootOptions struct {
	API     string
	Format  string
	Timeout time.Duration

	// transport is set by tests to reuse one breaker across commands.
	transport *clients.Transport
}

var ValidFormats = []string{"text", "json"}

func (o *RootOptions) Transport() *clients.Transport {
	if o.transport == nil {
		o.transport = clients.NewTransport(o.API)
	}
	return o.transport
}

// NewRootCommand creates the libractl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	api := os.Getenv("LIBRACTL_API")
	if api == "" {
		api = defaultAPI
	}

	cmd := &cobra.Command{
		Use:   "libractl",
		Short: "Operate the library circulation service",
		Long:  "libractl borrows, returns and extends loans and reports on overdue items and inventory.",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.API, "api", api, "base URL of the circulation API (env LIBRACTL_API)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newBorrowCommand(opts))
	cmd.AddCommand(newReturnCommand(opts))
	cmd.AddCommand(newExtendCommand(opts))
	cmd.AddCommand(newOverdueCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newDriftCommand(opts))
	return cmd
}
