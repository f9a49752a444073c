package cmd

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var deleteName string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every registration of a person",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		n, err := identity.Remove(cmd.Context(), Store, deleteName)
		if errors.Is(err, identity.ErrNotFound) {
			fmt.Printf("User '%s' not found.\n", deleteName)
			return err
		}
		if err != nil {
			utils.Die("Failed to delete user", err)
		}
		fmt.Printf("🗑️  User '%s' deleted successfully (%d registrations).\n", deleteName, n)
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVarP(&deleteName, "name", "n", "", "Name of the person")
	deleteCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(deleteCmd)
}
