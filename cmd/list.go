package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered people",
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := Store.Load(cmd.Context())
		if err != nil {
			utils.Die("Failed to list identities", err)
		}

		if len(ids) == 0 {
			fmt.Println("No identities registered.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tREGISTRATIONS")
		fmt.Fprintln(w, "----\t-------------")
		for _, c := range identity.Counts(ids) {
			fmt.Fprintf(w, "%s\t%d\n", c.Name, c.Count)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
