package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/client"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

var (
	mkFlags   []string
	mkFormat  string
	mkTags    string
	mkSize    int
	mkReaders []uint
	mkWriters []uint
)

var mkCmd = &cobra.Command{
	Use:   "mk <name> <type> [initial-value]",
	Short: "Create a variable",
	Long: `Create a named variable of the given type, optionally seeding an
initial value parsed with the type's grammar.

Examples:
  varbusctl mk sensors.temp float 21.5
  varbusctl mk build.id uint32 0x2a
  varbusctl mk motd string --size 128 "hello"
  varbusctl mk state.flags uint16 --flag persist --tags "infra,boot"`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runMk,
}

func init() {
	mkCmd.Flags().StringSliceVar(&mkFlags, "flag", nil, "variable flags: persist, readonly, renderer")
	mkCmd.Flags().StringVar(&mkFormat, "format", "", "format specification")
	mkCmd.Flags().StringVar(&mkTags, "tags", "", "comma-separated tag list")
	mkCmd.Flags().IntVar(&mkSize, "size", 0, "capacity for string/blob variables")
	mkCmd.Flags().UintSliceVar(&mkReaders, "reader", nil, "reader group id (repeatable; empty means unrestricted)")
	mkCmd.Flags().UintSliceVar(&mkWriters, "writer", nil, "writer group id (repeatable; empty means unrestricted)")
}

func parseFlags(names []string) (wire.Flags, error) {
	var flags wire.Flags
	for _, n := range names {
		switch strings.ToLower(n) {
		case "persist":
			flags |= wire.FlagPersist
		case "readonly":
			flags |= wire.FlagReadOnly
		case "renderer":
			flags |= wire.FlagRenderer
		default:
			return 0, fmt.Errorf("unknown flag %q (valid: persist, readonly, renderer)", n)
		}
	}
	return flags, nil
}

func toUint32s(in []uint) []uint32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

func runMk(cmd *cobra.Command, args []string) error {
	t, err := value.TypeFromName(args[1])
	if err != nil {
		return fmt.Errorf("unknown type %q (see \"varbusctl types\")", args[1])
	}
	flags, err := parseFlags(mkFlags)
	if err != nil {
		return err
	}

	spec := client.VarSpec{
		Name:    args[0],
		Type:    t,
		Flags:   flags,
		Format:  mkFormat,
		Tags:    mkTags,
		Size:    mkSize,
		Readers: toUint32s(mkReaders),
		Writers: toUint32s(mkWriters),
	}
	if len(args) == 3 {
		obj, err := value.FromString(args[2], t)
		if err != nil {
			return fmt.Errorf("parse initial value: %w", err)
		}
		spec.Value = &obj
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.Create(spec)
	if err != nil {
		return err
	}
	cmd.Printf("created %s (handle %d)\n", args[0], h)
	return nil
}

var rmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		info, err := s.Lookup(args[0])
		if err != nil {
			return err
		}
		return s.Unlink(info.Handle)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a variable's current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		var obj value.Object
		if err := s.GetByName(args[0], &obj); err != nil {
			return err
		}
		text, err := obj.Format()
		if err != nil {
			return err
		}
		cmd.Println(text)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Write a variable's value",
	Long: `Parse the value with the variable's type grammar and write it.

Examples:
  varbusctl set sensors.temp 22.0
  varbusctl set build.id 0xff`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		info, err := s.Lookup(args[0])
		if err != nil {
			return err
		}
		obj, err := value.FromString(args[1], info.Type)
		if err != nil {
			return fmt.Errorf("parse value: %w", err)
		}
		return s.Set(info.Handle, &obj)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the supported value types",
	Run: func(cmd *cobra.Command, args []string) {
		for t := value.Type(1); t.Valid(); t++ {
			cmd.Println(t.String())
		}
	},
}
