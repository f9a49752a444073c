package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/recognize"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var registerOpts struct {
	Name   string
	Images []string
	Models string
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a person from one or more photos",
	Long:  "Encodes the first face of every image and stores one registration per image under the given name.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("models") {
			cfg.Detection.Models = registerOpts.Models
		}
		cmd.SilenceUsage = true
		return runRegister(cmd)
	},
}

func init() {
	registerCmd.Flags().StringVarP(&registerOpts.Name, "name", "n", "", "Name of the person")
	registerCmd.Flags().StringSliceVarP(&registerOpts.Images, "image", "i", nil, "Image path (repeatable)")
	registerCmd.Flags().StringVarP(&registerOpts.Models, "models", "m", "models", "Directory holding the dlib model files")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command) error {
	engine, err := recognize.New(cfg.Detection.Models)
	if err != nil {
		utils.Die("Failed to load face models", err)
	}
	defer engine.Close()

	bar := progressbar.NewOptions(len(registerOpts.Images),
		progressbar.OptionSetDescription("🧬 Encoding faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var descs []types.Descriptor
	for _, path := range registerOpts.Images {
		d, err := encodeFirstFace(engine, path)
		bar.Add(1)
		if err != nil {
			if !errors.Is(err, types.ErrNoFaceFound) {
				utils.ShowError("Failed to encode "+path, err)
			}
			continue
		}
		descs = append(descs, d)
	}
	fmt.Fprintln(os.Stderr)

	if len(descs) == 0 {
		fmt.Println("❌ No face found in the image.")
		return fmt.Errorf("register %s: %w", registerOpts.Name, types.ErrNoFaceFound)
	}

	if _, err := identity.Register(cmd.Context(), Store, registerOpts.Name, descs...); err != nil {
		utils.Die("Failed to register user", err)
	}
	fmt.Printf("✅ User '%s' registered successfully (%d of %d images).\n", registerOpts.Name, len(descs), len(registerOpts.Images))
	return nil
}

func encodeFirstFace(engine *recognize.Engine, path string) (types.Descriptor, error) {
	img, err := loadImage(path)
	if err != nil {
		return types.Descriptor{}, err
	}
	dets, err := engine.Recognize(img)
	if err != nil {
		return types.Descriptor{}, err
	}
	if len(dets) == 0 {
		return types.Descriptor{}, types.ErrNoFaceFound
	}
	return dets[0].Descriptor, nil
}
