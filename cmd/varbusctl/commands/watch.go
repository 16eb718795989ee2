package commands

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
)

var watchCount int

var watchCmd = &cobra.Command{
	Use:   "watch <name>",
	Short: "Print a variable's value on every change",
	Long: `Subscribe to a variable and print each new value as it is written,
until interrupted or --count changes have been seen.

Examples:
  varbusctl watch sensors.temp
  varbusctl watch build.id --count 1`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "exit after this many changes (0 = forever)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	info, err := s.Lookup(args[0])
	if err != nil {
		return err
	}
	w, err := s.WatchVar(info.Handle)
	if err != nil {
		return err
	}
	defer w.Close()

	// Close the session on interrupt so a blocked wait unsticks.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		s.Close()
	}()

	seen := 0
	for watchCount == 0 || seen < watchCount {
		var obj value.Object
		if err := w.WaitNext(&obj); err != nil {
			if errors.Is(err, status.ErrTimedOut) {
				// Long-poll bound on the shared-memory binding; rearm.
				continue
			}
			return err
		}
		text, err := obj.Format()
		if err != nil {
			return err
		}
		cmd.Println(text)
		seen++
	}
	return nil
}
