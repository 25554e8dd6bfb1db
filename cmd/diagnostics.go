package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/loggers/cli"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/system"
)

func newDiagnosticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this instance to assist in debugging.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: diagnosticsCmdRun,
	}
}

// diagnosticsCmdRun prints a plain-text report covering the daemon version,
// the host, the loaded configuration and the start decision each declared
// module would receive. Secrets are redacted.
func diagnosticsCmdRun(*cobra.Command, []string) {
	cfg := config.Get()

	var b strings.Builder
	fmt.Fprintln(&b, "curator diagnostics")
	fmt.Fprintln(&b, strings.Repeat("=", 40))
	fmt.Fprintf(&b, "Version:       %s\n", system.Version)
	fmt.Fprintf(&b, "Go:            %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Config Path:   %s\n", cfg.Path())
	fmt.Fprintf(&b, "Debug:         %t\n", cfg.Debug)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "API")
	fmt.Fprintf(&b, "  Listen:      %s:%d\n", cfg.Api.Host, cfg.Api.Port)
	fmt.Fprintf(&b, "  Token Set:   %t\n", cfg.Api.Token != "")
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "System Directories")
	fmt.Fprintf(&b, "  Data:        %s\n", cfg.System.DataDirectory)
	fmt.Fprintf(&b, "  Storage:     %s\n", cfg.System.StorageDirectory)
	fmt.Fprintf(&b, "  Logs:        %s\n", cfg.System.LogDirectory)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Modules")
	if len(cfg.Modules) == 0 {
		fmt.Fprintln(&b, "  (none declared)")
	}
	for _, m := range cfg.Modules {
		outcome := modules.Validate(m)
		decision := "would start"
		if !outcome.Valid {
			decision = "would skip: " + outcome.Reason
		}
		fmt.Fprintf(&b, "  %-14s enabled=%-5t rate=%d/%s  %s\n", m.Name, m.Enabled, m.RateLimit, m.RateInterval, decision)
	}

	fmt.Print(b.String())
}
