package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/recognize"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var identifyOpts struct {
	Tolerance float64
	Models    string
}

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Check the faces in a photo against the registered people",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("tolerance") {
			cfg.Detection.Tolerance = identifyOpts.Tolerance
		}
		if cmd.Flags().Changed("models") {
			cfg.Detection.Models = identifyOpts.Models
		}
		return runIdentify(cmd, args[0])
	},
}

func init() {
	identifyCmd.Flags().Float64VarP(&identifyOpts.Tolerance, "tolerance", "t", identity.DefaultTolerance, "Face matching tolerance")
	identifyCmd.Flags().StringVarP(&identifyOpts.Models, "models", "m", "models", "Directory holding the dlib model files")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, imagePath string) error {
	img, err := loadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err)
		return err
	}

	ids, err := Store.Load(cmd.Context())
	if err != nil {
		utils.ShowError("Failed to load identities", err)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Loading face models...")
	engine, err := recognize.New(cfg.Detection.Models)
	if err != nil {
		utils.ShowError("Failed to load face models", err)
		return err
	}
	defer engine.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	dets, err := engine.Recognize(img)
	if err != nil {
		utils.ShowError("Face encoding failed", err)
		return err
	}
	if len(dets) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	cmp := identity.Euclidean{Tolerance: cfg.Detection.Tolerance}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tBOX\tNAME\tDECISION\tDISTANCE")
	fmt.Fprintln(w, "----\t---\t----\t--------\t--------")
	for i, d := range dets {
		name, decision, dist := "Unknown", types.Denied, "-"
		if id, ok := identity.Match(ids, cmp, d.Descriptor); ok {
			name, decision = id.Name, types.Granted
			dist = fmt.Sprintf("%.3f", identity.Distance(id.Descriptor, d.Descriptor))
		}
		fmt.Fprintf(w, "%d\t%v\t%s\t%s\t%s\n", i+1, d.Box, name, decision, dist)
	}
	w.Flush()
	return nil
}
