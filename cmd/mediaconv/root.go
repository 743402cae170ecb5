package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "mediaconv",
		Short:         "Parallel FFmpeg conversion worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "config.yml", "Configuration file path")
	flags.String("ffmpeg-path", "ffmpeg", "FFmpeg binary")
	flags.String("ffprobe-path", "", "FFprobe binary (default: next to ffmpeg)")
	flags.IntP("max-parallel", "j", 2, "Maximum concurrent conversions")
	flags.Bool("enable-hw-accel", true, "Use hardware acceleration when detected")
	flags.String("temp-dir", "", "Directory for job workspaces (default: OS temp dir)")
	flags.Int("default-threads", 0, "Encoder threads for jobs that set none (0: min(cpu, 8))")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console or json)")

	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newHWInfoCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newPresetsCommand())
	rootCmd.AddCommand(newFormatsCommand())

	return rootCmd
}
