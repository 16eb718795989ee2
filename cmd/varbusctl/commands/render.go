package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/shm"
)

var renderToShm bool

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Substitute ${name} references in a text",
	Long: `Read literal text from a file (or stdin), replace each ${name}
reference with the named variable's formatted value, and write the
result to stdout.

With --shm the result goes into this process's shared render buffer
instead, NUL-terminated, and the buffer's path is printed; another
process can map it to read the output without a pipe. The file stays
behind after exit and is replaced by the next --shm render from the
same pid.

A reference to an unknown variable emits nothing; the rest of the text
still renders and the command exits non-zero.

Examples:
  varbusctl render banner.tmpl
  echo 'temp is ${sensors.temp}' | varbusctl render`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().BoolVar(&renderToShm, "shm", false, "write the result into the shared render buffer and print its path")
}

func runRender(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if !renderToShm {
		return s.Expand(os.Stdout, text)
	}

	var buf bytes.Buffer
	expandErr := s.Expand(&buf, text)

	region, err := shm.Create(shm.DefaultDir(), shm.RenderName(os.Getpid()), buf.Len()+1)
	if err != nil {
		return err
	}
	data := region.Bytes()
	n := copy(data, buf.Bytes())
	data[n] = 0
	if err := region.Sync(); err != nil {
		region.Close()
		return err
	}
	if err := region.Detach(); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, region.Path())
	return expandErr
}
