package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every registered identity",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)
		if !resetYes && !confirm(reader, "⚠️  Are you sure you want to delete ALL registered identities?") {
			fmt.Println("Aborted.")
			return
		}

		fmt.Println("🗑️  Clearing identity store...")
		if err := clearStore(cmd.Context()); err != nil {
			utils.Die("Failed to reset identity store", err)
		}
		fmt.Println("✨ Identity store reset complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

// clearStore drops the backing table where the backend supports it and
// otherwise saves an empty set.
func clearStore(ctx context.Context) error {
	if r, ok := Store.(interface{ Reset(context.Context) error }); ok {
		return r.Reset(ctx)
	}
	return Store.Save(ctx, nil)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
