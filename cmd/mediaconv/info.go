package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediaconv/internal/formats"
	"mediaconv/internal/hwaccel"
	"mediaconv/pkg/models"
)

func newHWInfoCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "hwinfo",
		Short: "Show detected hardware acceleration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			info := engine.Profile().Info()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHWInfo(info))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderHWInfo(info hwaccel.Info) string {
	methods := "none"
	if len(info.Methods) > 0 {
		methods = strings.Join(info.Methods, ", ")
	}
	rows := [][]string{
		{"Platform", info.Platform},
		{"GPU", info.GPU},
		{"Acceleration", info.Acceleration},
		{"Methods", methods},
	}

	families := make([]string, 0, len(info.Encoders))
	for family := range info.Encoders {
		families = append(families, family)
	}
	sort.Strings(families)
	for _, family := range families {
		rows = append(rows, []string{"Encoders (" + family + ")", strings.Join(info.Encoders[family], ", ")})
	}
	return renderTable([]string{"Property", "Value"}, rows, nil)
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Analyse a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			info, err := engine.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderMediaInfo(info))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderMediaInfo(info *models.MediaInfo) string {
	rows := [][]string{
		{"format", "", formatSeconds(info.Duration), humanize.Bytes(uint64(max(info.Size, 0))), formatBitRate(info.BitRate)},
	}
	for i, v := range info.Video {
		detail := fmt.Sprintf("%dx%d", v.Width, v.Height)
		if v.FrameRate > 0 {
			detail += " @ " + strconv.FormatFloat(v.FrameRate, 'f', -1, 64) + " fps"
		}
		rows = append(rows, []string{fmt.Sprintf("video #%d", i), v.Codec, detail, "", ""})
	}
	for i, a := range info.Audio {
		detail := fmt.Sprintf("%d Hz, %d ch", a.SampleRate, a.Channels)
		rows = append(rows, []string{fmt.Sprintf("audio #%d", i), a.Codec, detail, "", ""})
	}
	for i, s := range info.Subtitles {
		rows = append(rows, []string{fmt.Sprintf("subtitle #%d", i), s.Codec, "", "", ""})
	}
	return renderTable(
		[]string{"Stream", "Codec", "Detail", "Size", "Bit rate"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func formatSeconds(sec float64) string {
	if sec <= 0 {
		return "unknown"
	}
	return (time.Duration(sec * float64(time.Second))).Round(time.Millisecond).String()
}

func formatBitRate(bps int64) string {
	if bps <= 0 {
		return ""
	}
	return humanize.SIWithDigits(float64(bps), 1, "b/s")
}

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in job presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(models.Presets))
			for _, name := range models.PresetNames() {
				p := models.Presets[name]
				hw := "yes"
				if !p.UseHardware() {
					hw = "no"
				}
				rows = append(rows, []string{name, p.VideoCodec, string(p.GetEncodingMode()), p.AudioCodec, hw})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Preset", "Video", "Mode", "Audio", "Hardware"}, rows, nil))
			return nil
		},
	}
}

func newFormatsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List output containers and the codecs each can carry",
		Long: `List output containers and the codecs each can carry.

The output file extension selects the container. Requested codecs the
container cannot hold are replaced by the first codec listed for it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := formats.New()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), table.Catalog())
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFormats(table))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	return cmd
}

func renderFormats(table *formats.Table) string {
	var rows [][]string
	add := func(ids []string) {
		for _, id := range ids {
			f := table.Format(id)
			video := "-"
			if len(f.VideoCodecs) > 0 {
				video = strings.Join(f.VideoCodecs, ", ")
			}
			rows = append(rows, []string{f.ID, f.Name, string(f.Type), video, strings.Join(f.AudioCodecs, ", ")})
		}
	}
	add(table.VideoFormats())
	add(table.AudioFormats())
	containers := renderTable([]string{"Container", "Name", "Type", "Video codecs", "Audio codecs"}, rows, nil)

	catalog := table.Catalog()
	rows = rows[:0]
	for _, c := range catalog.VideoCodecs {
		rows = append(rows, []string{c.ID, "video", c.CPUEncoder, c.Quality, ""})
	}
	for _, c := range catalog.AudioCodecs {
		lossless := ""
		if table.SupportsLossless(c.ID) {
			lossless = "lossless"
		}
		rows = append(rows, []string{c.ID, "audio", c.Encoder, c.Quality, lossless})
	}
	codecs := renderTable([]string{"Codec", "Kind", "Encoder", "Quality", "Notes"}, rows, nil)
	return containers + "\n" + codecs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
