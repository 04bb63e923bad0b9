// SPDX-License-Identifier: MIT
// Package cmd parses the command line into the set of options main acts
// on. The root command runs live detection; subcommands cover device
// listing, offline WAV scanning, and model inspection.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wakeword/pkg/build"
)

// Command values selected by the CLI.
const (
	CommandRun  = "run"
	CommandList = "list"
	CommandScan = "scan"
	CommandInfo = "info"
)

// Options is the parsed command line. Fields that override the config
// file are only applied when the matching *Set flag is true, so an unset
// flag never clobbers a file value with its default.
type Options struct {
	Command    string
	ConfigPath string
	TargetPath string // WAV file for scan, model blob for info

	ModelPath    string
	Threshold    float64
	DeviceID     int
	Verbose      bool
	ThresholdSet bool
	DeviceSet    bool
}

// ParseArgs builds the cobra command tree, executes it against os.Args,
// and returns the selected options.
func ParseArgs() (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{Command: CommandRun}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Wake word detection over live or recorded audio",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio input devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandList
		},
	}
	rootCmd.AddCommand(listCmd)

	scanCmd := &cobra.Command{
		Use:   "scan <file.wav>",
		Short: "Scan a WAV file for the wake word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandScan
			options.TargetPath = args[0]
			return nil
		},
	}
	rootCmd.AddCommand(scanCmd)

	infoCmd := &cobra.Command{
		Use:   "info <model.bin>",
		Short: "Print a model blob's header and shape",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("info requires exactly one model path")
			}
			options.Command = CommandInfo
			options.TargetPath = args[0]
			return nil
		},
	}
	rootCmd.AddCommand(infoCmd)

	rootCmd.PersistentFlags().StringVarP(&options.ConfigPath, "config", "f", "",
		"Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&options.ModelPath, "model", "m", "",
		"Path to the wake word model blob (overrides config)")
	rootCmd.PersistentFlags().Float64VarP(&options.Threshold, "threshold", "t", 0,
		"Detection threshold in [0,1] (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&options.DeviceID, "device", "d", -1,
		"Input device ID. Use 'list' to see available devices.")
	rootCmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	options.ThresholdSet = rootCmd.PersistentFlags().Changed("threshold")
	options.DeviceSet = rootCmd.PersistentFlags().Changed("device")
	return options, nil
}
