package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/home"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

const pidFile = ".bot.pid"

func main() {
	// LogFatal panics so that deferred cleanup runs.
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	flag.Parse()

	sys.InitLogger(*silent, true)

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}
	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())

	f := lockPIDFile()
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(pidFile)
	}()

	if err := run(cfg, *silent, *skipReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

// lockPIDFile takes an exclusive lock on the PID file, terminating a
// running instance that holds it.
func lockPIDFile() *os.File {
	f, err := os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogFatal(sys.MsgPIDOpenFail, err)
	}

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			sys.LogFatal(sys.MsgPIDLockFail, err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		sys.LogInfo(sys.MsgBotKillingOld, oldPid)
		_ = process.Signal(syscall.SIGTERM)
		terminated := false
		for i := 0; i < 50; i++ {
			if err := process.Signal(syscall.Signal(0)); err != nil {
				terminated = true
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if !terminated {
			sys.LogWarn(sys.MsgBotStubbornOld, oldPid)
			_ = process.Signal(syscall.SIGKILL)
			time.Sleep(200 * time.Millisecond)
		}
		sys.LogInfo(sys.MsgBotOldTerminated)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()
	return f
}

func run(cfg *sys.Config, silent, skipReg bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	sys.SetAppContext(ctx)

	guildID, err := snowflake.Parse(cfg.GuildID)
	if err != nil {
		return fmt.Errorf("%s: %w", sys.MsgConfigInvalidGuildID, err)
	}
	var reportChannel snowflake.ID
	if cfg.ReportChannelID != "" {
		if reportChannel, err = snowflake.Parse(cfg.ReportChannelID); err != nil {
			return fmt.Errorf("invalid REPORT_CHANNEL_ID: %w", err)
		}
	}
	for _, dir := range []string{cfg.SoundsDir, cfg.TempDir, cfg.RecordingsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	store, err := sys.OpenStore(ctx, cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	access, err := proc.NewEvaluator(cfg.Permissions)
	if err != nil {
		return err
	}

	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	e := wire(cfg, guildID, reportChannel, client, store)

	home.Bind(&home.App{
		Config:    cfg,
		Store:     store,
		Access:    access,
		Joins:     e.joins,
		Scheduler: e.scheduler,
		Builder:   e.builder,
		Exporter:  e.exporter,
		Library:   e.library,
		Limiter:   e.limiter,
		Registry:  e.registry,
	})

	if !skipReg {
		sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
			sys.SafeGo(func() {
				if err := sys.RegisterCommands(ctx, client, store, cfg.GuildID); err != nil {
					sys.LogError(sys.MsgBotRegisterFail, err)
				}
			})
		})
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}
	sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	e.shutdown()
	return nil
}

// engine is the wired playback stack.
type engine struct {
	registry  *proc.ProcessRegistry
	exports   *proc.ProcessRegistry
	joins     *proc.JoinCoordinator
	builder   *proc.PipelineBuilder
	exporter  *proc.FileExporter
	library   *proc.Library
	scheduler *proc.Scheduler
	recorder  *proc.Recorder
	limiter   *home.Limiter
}

func wire(cfg *sys.Config, guildID, reportChannel snowflake.ID, client *bot.Client, store *sys.Store) *engine {
	clk := clock.New()
	e := &engine{registry: proc.NewProcessRegistry(), exports: proc.NewProcessRegistry()}

	transcoder := proc.NewTranscoder(cfg.FFmpegPath, cfg.KillGrace, e.registry)
	transport := proc.NewVoiceTransport(client, guildID, transcoder)
	if cfg.EnableRecording {
		e.recorder = proc.NewRecorder(cfg.RecordingsDir, cfg.RecordingSilenceGap, cfg.TalkSessionGap, store, clk)
		transport.Receiver = e.recorder
	}

	metrics := proc.NewMetrics()
	notifier := home.NewChannelNotifier(client, reportChannel)

	e.joins = proc.NewJoinCoordinator(transport, clk, cfg.JoinCooldown, cfg.JoinTimeout)
	e.builder = proc.NewPipelineBuilder(cfg.MaxMixInputs, proc.ExportSettings{
		Codec:     cfg.ExportCodec,
		Bitrate:   cfg.ExportBitrate,
		Container: cfg.ExportContainer,
		TempDir:   cfg.TempDir,
		SoundsDir: cfg.SoundsDir,
	})
	// Exports get their own registry so skipping playback leaves them alone.
	exportTranscoder := proc.NewTranscoder(cfg.FFmpegPath, cfg.KillGrace, e.exports)
	e.exporter = proc.NewFileExporter(exportTranscoder, store, notifier, cfg.SoundsDir)
	e.library = proc.NewLibrary(cfg.SoundsDir, store)
	e.limiter = home.NewLimiter(cfg.CommandRate, cfg.CommandBurst)

	e.scheduler = proc.NewScheduler(proc.SchedulerConfig{
		Clock:                   clk,
		SoundsDir:               cfg.SoundsDir,
		PlaybackGap:             cfg.PlaybackGap,
		SettleDelay:             cfg.SettleDelay,
		StreamTimeout:           cfg.StreamTimeout,
		StreamResumeLimit:       cfg.StreamResumeLimit,
		EnablePausingLongSounds: cfg.EnablePausingLongSounds,
		LongSoundDuration:       cfg.LongSoundDuration,
		HistorySize:             cfg.HistorySize,
		VolumeGlobal:            cfg.VolumeGlobal,
		DefaultVolume:           cfg.DefaultVolume,
		SearchWindow:            cfg.SearchWindow,
	}, proc.SchedulerDeps{
		Joins:    e.joins,
		Builder:  e.builder,
		Store:    store,
		Resolver: &proc.YtdlpResolver{Proxy: cfg.YoutubeProxy},
		Exporter: e.exporter,
		Notifier: notifier,
		Metrics:  metrics,
		Kill:     e.registry.KillAll,
	})

	e.joins.OnJoined(func(conn proc.Connection) {
		metrics.JoinCompleted()
		if e.recorder != nil {
			e.recorder.SetChannel(conn.ChannelID())
		}
		e.scheduler.Advance()
	})
	e.joins.OnLeaving(func(proc.Connection) {
		if e.recorder != nil {
			e.recorder.SetChannel(0)
		}
	})

	registerDaemons(cfg, client, store, e, metrics)
	return e
}

// shutdown stops playback, kills transcoders, flushes statistics and
// recordings, then leaves voice.
func (e *engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.scheduler.Close(ctx); err != nil {
		sys.LogWarn(sys.MsgGenericError, err)
	}
	if n := e.registry.KillAll() + e.exports.KillAll(); n > 0 {
		sys.LogTranscoder(sys.MsgTranscoderKilled, n)
	}
	if e.recorder != nil {
		e.recorder.Shutdown()
	}
	if err := e.joins.Leave(ctx); err != nil {
		sys.LogVoice(sys.MsgGenericError, err)
	}
	sys.ShutdownDaemons()
}
