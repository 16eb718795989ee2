package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/wire"
)

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a variable's descriptor",
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

		cmd.Printf("Name:        %s\n", info.Name)
		cmd.Printf("Handle:      %d\n", info.Handle)
		cmd.Printf("Type:        %s\n", info.Type)
		cmd.Printf("GUID:        %s\n", info.GUID)
		cmd.Printf("Instance:    %d\n", info.InstanceID)
		cmd.Printf("Flags:       %s\n", flagNames(info.Flags))
		if info.Format != "" {
			cmd.Printf("Format:      %s\n", info.Format)
		}
		if info.Tags != "" {
			cmd.Printf("Tags:        %s\n", info.Tags)
		}
		cmd.Printf("Readers:     %s\n", credList(info.Readers))
		cmd.Printf("Writers:     %s\n", credList(info.Writers))
		return nil
	},
}

func flagNames(f wire.Flags) string {
	var names []string
	if f&wire.FlagPersist != 0 {
		names = append(names, "persist")
	}
	if f&wire.FlagReadOnly != 0 {
		names = append(names, "readonly")
	}
	if f&wire.FlagRenderer != 0 {
		names = append(names, "renderer")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func credList(gids []uint32) string {
	if len(gids) == 0 {
		return "unrestricted"
	}
	parts := make([]string, len(gids))
	for i, g := range gids {
		parts[i] = fmt.Sprint(g)
	}
	return strings.Join(parts, ",")
}
