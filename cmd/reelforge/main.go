package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/keagan/reelforge/internal/api"
	"github.com/keagan/reelforge/internal/assets"
	"github.com/keagan/reelforge/internal/config"
	"github.com/keagan/reelforge/internal/ffmpeg"
	"github.com/keagan/reelforge/internal/logging"
	"github.com/keagan/reelforge/internal/pipeline"
	"github.com/keagan/reelforge/internal/queue"
	"github.com/keagan/reelforge/internal/timeline"
	"github.com/keagan/reelforge/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

// shutdownGrace bounds how long serve waits for open requests on exit
const shutdownGrace = 10 * time.Second

var (
	cfgFile   string
	verbose   bool
	catalog   string
	graphOnly bool
	serveAddr string
)

func main() {
	ctx := context.Background()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "reelforge",
	Short:        "reelforge - declarative video composition renderer",
	Long:         "Compiles timeline compositions into single ffmpeg invocations and renders them through a bounded job queue.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config first so the log format can come from it
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		logging.Init(verbose, cfg.Log.Format)

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./reelforge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&catalog, "assets", "", "asset catalog (YAML) consulted before probing files")

	compileCmd.Flags().BoolVar(&graphOnly, "graph", false, "print only the filter graph")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hwaccelCmd)
	rootCmd.AddCommand(probeCmd)
}

// newExecutor locates ffmpeg and ffprobe from config
func newExecutor(cfg *config.Config) (*ffmpeg.Executor, error) {
	exec, err := ffmpeg.New(log.Logger, ffmpeg.Options{
		BinaryPath: cfg.FFmpeg.BinaryPath,
		ProbePath:  cfg.FFmpeg.ProbePath,
		Threads:    cfg.FFmpeg.Threads,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", exec.BinaryPath()).Msg("using ffmpeg")
	return exec, nil
}

// newResolver looks assets up in the catalog, if any, then on disk
// relative to baseDir
func newResolver(exec *ffmpeg.Executor, baseDir string) (assets.Resolver, error) {
	probe := assets.NewProbeResolver(log.Logger, exec, baseDir)
	if catalog == "" {
		return probe, nil
	}
	reg, err := assets.LoadRegistry(catalog)
	if err != nil {
		return nil, err
	}
	return assets.Chain{reg, probe}, nil
}

func newPipeline(cfg *config.Config, baseDir string) (*pipeline.Pipeline, error) {
	exec, err := newExecutor(cfg)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(exec, baseDir)
	if err != nil {
		return nil, err
	}

	starter := pipeline.ExecutorStarter{Executor: exec}
	return pipeline.New(log.Logger, cfg, pipeline.Deps{
		Resolver: resolver,
		Starter:  starter,
		Lister:   starter,
	})
}

var renderCmd = &cobra.Command{
	Use:   "render [composition file]",
	Short: "Render a composition and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		doc, err := timeline.LoadDocument(args[0])
		if err != nil {
			return err
		}

		pipe, err := newPipeline(cfg, filepath.Dir(args[0]))
		if err != nil {
			return err
		}
		defer pipe.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id, err := pipe.Submit(ctx, &doc.Composition, doc.Options)
		if err != nil {
			return err
		}

		logger := logging.WithComponent("render")
		unsubscribe, err := pipe.SubscribeProgress(id, func(job pipeline.Job) {
			if job.Status != queue.StatusProcessing {
				return
			}
			logger.Info().
				Str("job_id", job.ID).
				Int("progress", job.Progress).
				Str("stage", job.Stage).
				Str("eta", util.FormatDuration(job.ETA)).
				Msg("rendering")
		})
		if err != nil {
			return err
		}
		defer unsubscribe()

		job, err := pipe.Wait(ctx, id)
		if errors.Is(err, context.Canceled) {
			logger.Warn().Str("job_id", id).Msg("interrupted, cancelling render")
			pipe.Cancel(id)
			job, err = pipe.Wait(context.Background(), id)
		}
		if err != nil {
			return err
		}

		switch job.Status {
		case queue.StatusCompleted:
			logger.Info().
				Str("job_id", id).
				Str("output", job.Result).
				Str("took", util.FormatDuration(job.EndTime.Sub(job.StartTime))).
				Msg("render complete")
			return nil
		case queue.StatusCancelled:
			return fmt.Errorf("render %s cancelled", id)
		default:
			return fmt.Errorf("render %s failed: %s", id, job.Error)
		}
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile [composition file]",
	Short: "Print the ffmpeg command a composition compiles to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		doc, err := timeline.LoadDocument(args[0])
		if err != nil {
			return err
		}

		pipe, err := newPipeline(cfg, filepath.Dir(args[0]))
		if err != nil {
			return err
		}
		defer pipe.Close()

		inv, err := pipe.Compile(cmd.Context(), &doc.Composition, doc.Options)
		if err != nil {
			return err
		}

		for _, w := range inv.Warnings {
			log.Warn().Msg(w)
		}

		out := cmd.OutOrStdout()
		if graphOnly {
			for _, n := range inv.Graph {
				fmt.Fprintln(out, n.String())
			}
			return nil
		}
		fmt.Fprintln(out, inv.String())
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP render API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		pipe, err := newPipeline(cfg, cfg.WorkDir)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.FFmpeg.HardwareAcceleration {
			pipe.DetectHWAccel(ctx)
		}

		server := api.NewServer(api.ServerConfig{
			Addr:      cfg.Server.Addr,
			Renderer:  pipe,
			Logger:    log.Logger,
			StartTime: time.Now(),
			Version:   version,
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(server.Start)
		g.Go(func() error {
			return pipe.Run(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			err := server.Shutdown(shutdownCtx)
			pipe.Close()
			return err
		})

		return g.Wait()
	},
}

var hwaccelCmd = &cobra.Command{
	Use:   "hwaccel",
	Short: "Detect the hardware encoder ffmpeg offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pipe, err := newPipeline(cfg, cfg.WorkDir)
		if err != nil {
			return err
		}
		defer pipe.Close()

		fmt.Fprintln(cmd.OutOrStdout(), pipe.DetectHWAccel(cmd.Context()))
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [path or asset id]",
	Short: "Show how an asset resolves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		exec, err := newExecutor(cfg)
		if err != nil {
			return err
		}
		resolver, err := newResolver(exec, "")
		if err != nil {
			return err
		}

		a, err := resolver.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "path:      %s\nkind:      %s\n", a.Path, a.Kind)
		if a.Width > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "size:      %dx%d\n", a.Width, a.Height)
		}
		if a.Duration > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "duration:  %gs\n", a.Duration)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "has audio: %v\n", a.HasAudio)
		return nil
	},
}
