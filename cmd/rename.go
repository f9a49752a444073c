package cmd

import (
	"fmt"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <old_name> <new_name>",
	Short: "Relabel every registration of a person",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		from, to := args[0], args[1]
		if to == "" {
			utils.Die("Invalid new name", types.ErrEmptyName)
		}

		ids, err := Store.Load(cmd.Context())
		if err != nil {
			utils.Die("Failed to load identities", err)
		}
		renamed, n := identity.Rename(ids, from, to)
		if n == 0 {
			utils.Die(fmt.Sprintf("User '%s' not found", from), identity.ErrNotFound)
		}
		if err := Store.Save(cmd.Context(), renamed); err != nil {
			utils.Die("Failed to rename user", err)
		}

		fmt.Printf("✅ '%s' relabeled as '%s' (%d registrations)\n", from, to, n)
	},
}

func init() {
	rootCmd.AddCommand(renameCmd)
}
