package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sar-timelapse/internal/config"
	"sar-timelapse/internal/video"
)

// jobFlags are command line overrides for the job file
type jobFlags struct {
	configPath string
	verbose    bool

	input, output, id string
	resolution        float64
	resampling        string
	nodata            string
	channel           int
	decibel           bool
	vmin, vmax        float64
	landmask          string
	statsMethod       string
	frameRate         int
	start, end        string
	fontScale         float64
	position          string
	format            string
	quality           int
	workers           int
	keep              bool
	gdal              bool
	histogramPlot     bool
	aoiWKT            string
	framesGeoTIFF     bool
}

// apply copies every flag the user actually set onto s
func (f *jobFlags) apply(cmd *cobra.Command, s *config.Settings) {
	changed := cmd.Flags().Changed
	if changed("input") {
		s.InputDir = f.input
	}
	if changed("output") {
		s.OutputDir = f.output
	}
	if changed("id") {
		s.TimeseriesID = f.id
	}
	if changed("resolution") {
		s.Resolution = f.resolution
	}
	if changed("resampling") {
		s.Resampling = f.resampling
	}
	if changed("nodata") {
		s.NoData = f.nodata
	}
	if changed("channel") {
		s.Channel = f.channel
	}
	if changed("decibel") {
		s.Decibel = f.decibel
	}
	if changed("vmin") {
		v := f.vmin
		s.VMin = &v
	}
	if changed("vmax") {
		v := f.vmax
		s.VMax = &v
	}
	if changed("landmask") {
		s.Landmask = f.landmask
	}
	if changed("stats") {
		s.StatsMethod = f.statsMethod
	}
	if changed("frame-rate") {
		s.FrameRate = f.frameRate
	}
	if changed("start") {
		s.StartDate = f.start
	}
	if changed("end") {
		s.EndDate = f.end
	}
	if changed("font-scale") {
		s.Overlay.FontScale = f.fontScale
	}
	if changed("position") {
		s.Overlay.Position = video.Position(f.position)
	}
	if changed("format") {
		s.Video.Format = f.format
	}
	if changed("quality") {
		s.Video.Quality = f.quality
	}
	if changed("workers") {
		s.Workers = f.workers
	}
	if changed("keep-intermediate") {
		s.KeepIntermediate = f.keep
	}
	if changed("gdal") {
		s.Warp.UseGDAL = f.gdal
	}
	if changed("plot-histogram") {
		s.HistogramPlot = f.histogramPlot
	}
	if changed("aoi-wkt") {
		// the polygon replaces a bbox from the job file
		s.AOIWKT = f.aoiWKT
		s.AOI = nil
	}
	if changed("frames-geotiff") {
		s.FramesGeoTIFF = f.framesGeoTIFF
	}
}

// load reads the job file, applies the flags and validates the result
func (f *jobFlags) load(cmd *cobra.Command) (*App, error) {
	s, err := config.LoadSettings(f.configPath)
	if err != nil {
		return nil, err
	}
	f.apply(cmd, s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return NewApp(s, f.verbose), nil
}

func addGridFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "directory of input GeoTIFF scenes")
	cmd.Flags().Float64Var(&f.resolution, "resolution", 0, "grid resolution in map units")
	cmd.Flags().StringVar(&f.nodata, "nodata", "", `nodata value ("nan" or a number)`)
	cmd.Flags().IntVar(&f.channel, "channel", 0, "1-based band to read")
	cmd.Flags().StringVar(&f.aoiWKT, "aoi-wkt", "", "crop every scene to this WKT polygon")
}

func addVideoFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output directory")
	cmd.Flags().StringVar(&f.id, "id", "", "timeseries identifier used in output names")
	cmd.Flags().IntVar(&f.frameRate, "frame-rate", 0, "frames per second")
	cmd.Flags().StringVar(&f.start, "start", "", "first acquisition date to include (DDMMYYYY)")
	cmd.Flags().StringVar(&f.end, "end", "", "last acquisition date to include (DDMMYYYY)")
	cmd.Flags().Float64Var(&f.fontScale, "font-scale", 0, "label font scale, 0 disables the label")
	cmd.Flags().StringVar(&f.position, "position", "", "label position: top-left, bottom-left or none")
	cmd.Flags().StringVar(&f.format, "format", "", "video format: mp4, avi or gif")
	cmd.Flags().IntVar(&f.quality, "quality", 0, "video quality 0-100")
}

func addStatsFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().Float64Var(&f.vmin, "vmin", 0, "lower bound of the value range (needs --vmax)")
	cmd.Flags().Float64Var(&f.vmax, "vmax", 0, "upper bound of the value range (needs --vmin)")
	cmd.Flags().StringVar(&f.landmask, "landmask", "", "land/ocean raster, zero is ocean")
	cmd.Flags().StringVar(&f.statsMethod, "stats", "", "percentile method: exact or histogram")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel scene workers")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newRootCmd() *cobra.Command {
	f := &jobFlags{}

	root := &cobra.Command{
		Use:           "sar-timelapse",
		Short:         "Build timelapse videos from SAR GeoTIFF scenes",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "YAML job file")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "log per-phase progress")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Align, normalize and assemble a timelapse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := f.load(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			rep, err := app.RunTimeseries(cmd.Context())
			if err != nil {
				return err
			}
			if rep.NoOp {
				fmt.Println("No frames to make video")
				return nil
			}
			fmt.Printf("Video written to %s (%d frames)\n", rep.OutputPath, len(rep.Frames))
			return nil
		},
	}
	addGridFlags(runCmd, f)
	addVideoFlags(runCmd, f)
	addStatsFlags(runCmd, f)
	runCmd.Flags().StringVar(&f.resampling, "resampling", "", "nearest, bilinear, cubic, lanczos or exact")
	runCmd.Flags().BoolVar(&f.decibel, "decibel", false, "convert linear intensity to dB after alignment")
	runCmd.Flags().BoolVar(&f.keep, "keep-intermediate", false, "keep aligned rasters and frames")
	runCmd.Flags().BoolVar(&f.gdal, "gdal", false, "resample with gdalwarp")
	runCmd.Flags().BoolVar(&f.histogramPlot, "plot-histogram", false, "write the pooled value histogram")
	runCmd.Flags().BoolVar(&f.framesGeoTIFF, "frames-geotiff", false, "also write georeferenced 8-bit frames")

	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "Print the shared grid for a scene directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := f.load(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			g, n, err := app.PreviewGrid(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"scenes": n, "grid": g})
		},
	}
	addGridFlags(gridCmd, f)

	var plotPath string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Estimate the value range of a directory of aligned rasters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := f.load(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			rng, err := app.ComputeStats(cmd.Context(), app.GetSettings().InputDir, plotPath)
			if err != nil {
				return err
			}
			return printJSON(rng)
		},
	}
	addGridFlags(statsCmd, f)
	addStatsFlags(statsCmd, f)
	statsCmd.Flags().StringVar(&plotPath, "plot", "", "write the pooled histogram to this PNG")

	var framesDir string
	videoCmd := &cobra.Command{
		Use:   "video",
		Short: "Assemble existing PNG frames into a video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := f.load(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			res, err := app.ExportVideo(cmd.Context(), framesDir)
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Println("No frames to make video")
				return nil
			}
			fmt.Printf("Video written to %s (%d frames)\n", res.Path, len(res.Frames))
			return nil
		},
	}
	addVideoFlags(videoCmd, f)
	videoCmd.Flags().StringVar(&framesDir, "frames", "", "directory of PNG frames")
	_ = videoCmd.MarkFlagRequired("frames")

	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a job file with default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := config.SaveSettings(args[0], config.DefaultSettings()); err != nil {
				return err
			}
			fmt.Printf("Default settings written to %s\n", args[0])
			return nil
		},
	}

	root.AddCommand(runCmd, gridCmd, statsCmd, videoCmd, initCmd)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
		stop()
		os.Exit(1)
	}
}
