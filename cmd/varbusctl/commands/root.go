// Package commands implements the varbusctl CLI: ad-hoc inspection and
// manipulation of variables on a running varbus server.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/client"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	flagAddr   string
	flagShmDir string
	flagBuf    int
)

var rootCmd = &cobra.Command{
	Use:   "varbusctl",
	Short: "varbusctl - inspect and manipulate varbus variables",
	Long: `varbusctl talks to a running varbus server over the stream socket
(default) or the shared-memory binding (--shm-dir).

The server address defaults to the VARBUS_HOST and VARBUS_PORT
environment variables, falling back to localhost:4545.

Use "varbusctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagAddr, "addr", "", "server address: host:port or a unix socket path")
	pf.StringVar(&flagShmDir, "shm-dir", "", "use the shared-memory binding rooted at this directory")
	pf.IntVar(&flagBuf, "work-buffer", 0, "session work-buffer size in bytes")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mkCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(typesCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// openSession connects per the global flags.
func openSession() (*client.Session, error) {
	return client.Open(client.Options{
		WorkBufferSize:  flagBuf,
		Addr:            flagAddr,
		SharedMemoryDir: flagShmDir,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("varbusctl %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}
