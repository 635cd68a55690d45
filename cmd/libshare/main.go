package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/library"
	"github.com/outofforest/libshare/transport/lan"
	"github.com/outofforest/libshare/wire"
	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithLogger(ctx, logger.New(logger.DefaultConfig))
	err := execute(ctx, rootCmd())
	cancel()

	if err != nil {
		os.Exit(1)
	}
}

// execute runs the command and logs its failure. Cancellation is not a failure.
func execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	logger.Get(ctx).Error("Command failed", zap.Error(err))
	return err
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "libshare",
		Short:         "Shares music library with peers in the local network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the TOML config file")

	cmd.AddCommand(
		runCmd(&configFile),
		importCmd(&configFile),
		playlistCmd(&configFile),
	)
	return cmd
}

func runCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := LoadConfig(*configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), config)
		},
	}
}

func importCmd(configFile *string) *cobra.Command {
	var (
		info     library.TrackInfo
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Adds track to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.WithStack(err)
			}
			info.Duration = duration.Milliseconds()

			return withLibrary(cmd.Context(), *configFile, func(lib *library.Library) error {
				id, err := lib.AddTrack(cmd.Context(), info, data)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return errors.WithStack(err)
			})
		},
	}

	cmd.Flags().StringVar(&info.Title, "title", "", "track title")
	cmd.Flags().StringVar(&info.Artist, "artist", "", "artist")
	cmd.Flags().StringVar(&info.Album, "album", "", "album")
	cmd.Flags().StringVar(&info.Genre, "genre", "", "genre")
	cmd.Flags().Int64Var(&info.TrackNumber, "track-number", 0, "number of the track on the album")
	cmd.Flags().DurationVar(&duration, "duration", 0, "track duration")
	return cmd
}

func playlistCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlist",
		Short: "Manages playlists",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name> [track-id...]",
		Short: "Creates playlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackIDs := make([]int64, 0, len(args)-1)
			for _, arg := range args[1:] {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return errors.Wrapf(err, "invalid track ID %q", arg)
				}
				trackIDs = append(trackIDs, id)
			}

			return withLibrary(cmd.Context(), *configFile, func(lib *library.Library) error {
				id, err := lib.CreatePlaylist(cmd.Context(), args[0], trackIDs)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return errors.WithStack(err)
			})
		},
	})
	return cmd
}

func withLibrary(ctx context.Context, configFile string, fn func(lib *library.Library) error) error {
	config, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	lib, err := library.Open(ctx, config.Library())
	if err != nil {
		return err
	}
	defer lib.Close()

	return fn(lib)
}

func run(ctx context.Context, config Config) error {
	log := logger.Get(ctx)

	lib, err := library.Open(ctx, config.Library())
	if err != nil {
		return err
	}
	defer lib.Close()

	self, err := wire.NewPeerIdentity(config.Name)
	if err != nil {
		return err
	}

	transportConfig, err := config.Transport()
	if err != nil {
		return err
	}
	ls, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return errors.WithStack(err)
	}
	defer ls.Close()

	t, err := lan.New(transportConfig, self, ls)
	if err != nil {
		return err
	}

	ui := newConsoleUI(log, config.Sync)
	m, err := libshare.New(config.Manager(), t, libshare.Collaborators{
		UI:       ui,
		Metadata: lib,
		Database: lib,
		Playback: idlePlayback{},
	})
	if err != nil {
		return err
	}

	log.Info("Listening for sessions", zap.Stringer("address", ls.Addr()))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("manager", parallel.Fail, m.Run)
		spawn("sync", parallel.Fail, func(ctx context.Context) error {
			return ui.Run(ctx, m)
		})
		return nil
	})
}
