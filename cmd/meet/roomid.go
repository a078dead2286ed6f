package main

import (
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/spf13/cobra"
)

var roomIDString bool

var roomIDCmd = &cobra.Command{
	Use:   "room-id <name>",
	Short: "Print the room id every client derives for a room name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := domain.ResolveRoomID(domain.RoomName(args[0]))
		if roomIDString {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%q\n", id.String())
			return err
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), id.String())
		return err
	},
}

func init() {
	roomIDCmd.Flags().BoolVar(&roomIDString, "string", false, "print the id as a string room id")
}
