package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/capture"
	"github.com/andresmejia3/gatekeeper/internal/events"
	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/pipeline"
	"github.com/andresmejia3/gatekeeper/internal/recognize"
	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/andresmejia3/gatekeeper/internal/vision"
	"github.com/andresmejia3/gatekeeper/internal/worker"
	"github.com/spf13/cobra"
)

var runOpts struct {
	Camera     string
	Models     string
	Interval   time.Duration
	Scale      float64
	Tolerance  float64
	Trackers   []string
	MQTTBroker string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the live access gate on the webcam",
	Long:  "Shows the camera feed with a green (granted) or red (denied) box per face. Press 'q' to quit, 't' to register the face in view.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyRunFlags(cmd)
		if err := cfg.Validate(); err != nil {
			utils.Die("Invalid run options", err)
		}
		return runLive(cmd)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.Camera, "camera", "c", "0", "Webcam index or video path")
	f.StringVarP(&runOpts.Models, "models", "m", "models", "Directory holding the dlib model files")
	f.DurationVar(&runOpts.Interval, "interval", worker.DefaultInterval, "Time between recognition passes")
	f.Float64Var(&runOpts.Scale, "scale", worker.DefaultScale, "Downsample factor for recognition (0-1]")
	f.Float64VarP(&runOpts.Tolerance, "tolerance", "t", identity.DefaultTolerance, "Face matching tolerance")
	f.StringSliceVar(&runOpts.Trackers, "tracker", tracking.DefaultPreference, "Tracker preference order")
	f.StringVar(&runOpts.MQTTBroker, "mqtt-broker", "", "MQTT broker for access events, e.g. tcp://localhost:1883")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("camera") {
		cfg.Camera.Device = runOpts.Camera
	}
	if f.Changed("models") {
		cfg.Detection.Models = runOpts.Models
	}
	if f.Changed("interval") {
		cfg.Detection.Interval = runOpts.Interval
	}
	if f.Changed("scale") {
		cfg.Detection.Scale = runOpts.Scale
	}
	if f.Changed("tolerance") {
		cfg.Detection.Tolerance = runOpts.Tolerance
	}
	if f.Changed("tracker") {
		cfg.Detection.Trackers = runOpts.Trackers
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker = runOpts.MQTTBroker
	}
}

func runLive(cmd *cobra.Command) error {
	ctx := cmd.Context()

	// 1. Capabilities first: no tracker or no models is fatal.
	factory, trackerName, err := tracking.Resolve(cfg.Detection.Trackers...)
	if err != nil {
		utils.Die(fmt.Sprintf("No usable tracker (available: %v)", tracking.Available()), err)
	}
	fmt.Fprintf(os.Stderr, "🎯 Using %s tracker\n", trackerName)

	fmt.Fprintln(os.Stderr, "🚀 Loading face models...")
	engine, err := recognize.New(cfg.Detection.Models)
	if err != nil {
		utils.Die("Failed to load face models", err)
	}
	defer engine.Close()

	ids, err := Store.Load(ctx)
	if err != nil {
		utils.Die("Failed to load identities", err)
	}

	cam, err := vision.OpenCamera(cfg.Camera.Device)
	if err != nil {
		utils.Die("Camera not available", err)
	}
	src := capture.NewSource(cam, cfg.Camera.Interval)
	if err := src.Start(ctx); err != nil {
		cam.Close()
		return err
	}

	// 2. Events are best effort.
	var pub events.Publisher = events.Discard{}
	if cfg.MQTT.Broker != "" {
		m, err := events.DialMQTT(events.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			utils.ShowError("MQTT unavailable, access events disabled", err)
		} else {
			pub = m
		}
	}
	defer pub.Close()

	// 3. Wire the pipeline.
	state := &tracking.State{}
	cmp := identity.Euclidean{Tolerance: cfg.Detection.Tolerance}
	wcfg := worker.Config{
		Interval:     cfg.Detection.Interval,
		RetryDelay:   cfg.Detection.RetryDelay,
		Scale:        cfg.Detection.Scale,
		UnknownLabel: cfg.Detection.UnknownLabel,
		Events:       pub,
	}
	newDetector := func(ids []identity.Identity) pipeline.Detector {
		return worker.New(src, engine, cmp, factory, ids, state, wcfg)
	}

	ctl := pipeline.New(pipeline.Deps{
		Frames:      src,
		Display:     vision.NewWindow(cfg.Display.Title),
		Prompter:    pipeline.NewLinePrompter(os.Stdin, os.Stdout),
		Engine:      engine,
		Store:       Store,
		State:       state,
		NewDetector: newDetector,
		Identities:  ids,
		Events:      pub,
	}, pipeline.Config{
		MinBrightness: cfg.Display.MinBrightness,
		KeyWait:       cfg.Display.KeyWait,
		Scale:         cfg.Detection.Scale,
	})

	fmt.Fprintf(os.Stderr, "📷 Watching camera %s with %d known identities\n", cfg.Camera.Device, len(ids))
	if err := ctl.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "👋 Gate closed.")
	return nil
}
