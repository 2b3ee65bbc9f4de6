// Command voicecore records from a microphone (or replays a WAV file as one)
// and transcribes it with the best available backend.
//
// Usage:
//
//	voicecore [--config path] [--device id] [--duration 5s] [--stream]
//	voicecore --file clip.wav
//	voicecore --list-devices | --list-models | --download base.en
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chaz8081/voicecore/internal/audio"
	"github.com/chaz8081/voicecore/internal/config"
	"github.com/chaz8081/voicecore/internal/dsp"
	"github.com/chaz8081/voicecore/internal/events"
	"github.com/chaz8081/voicecore/internal/models"
	"github.com/chaz8081/voicecore/internal/pipeline"
	"github.com/chaz8081/voicecore/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/voicecore/config.yaml)")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	listModels := flag.Bool("list-models", false, "list models and exit")
	download := flag.String("download", "", "download a model by id and exit")
	device := flag.String("device", "", "capture device id (overrides audio.device)")
	file := flag.String("file", "", "transcribe an audio file instead of recording")
	replay := flag.String("replay", "", "play a WAV file through a virtual microphone instead of a real one")
	duration := flag.Duration("duration", 0, "stop recording after this long (default: until Ctrl+C)")
	stream := flag.Bool("stream", false, "stream audio to a live session while recording")
	writeConfig := flag.Bool("write-config", false, "write a default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("write config", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote", path)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if *device != "" {
		cfg.Audio.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *listModels:
		printModels(cfg)
		return
	case *download != "":
		path, err := models.NewManager(cfg.Transcribe.ModelsDir).Download(ctx, *download, os.Stderr)
		if err != nil {
			fatal("download", err)
		}
		fmt.Println("Model saved to", path)
		return
	}

	var driver audio.Driver
	if *replay != "" {
		buf, err := audio.LoadWAV(*replay)
		if err != nil {
			fatal("replay", err)
		}
		rd := audio.NewReplayDriver(audio.Device{ID: "replay", Name: "Replay: " + *replay, IsDefault: true})
		rd.SetSource("replay", buf)
		driver = rd
	} else if *file == "" || *listDevices {
		md, err := audio.NewMalgoDriver()
		if err != nil {
			fatal("audio driver", err)
		}
		driver = md
	}
	if driver != nil {
		defer func() { _ = driver.Close() }()
	}

	if *listDevices {
		printDevices(driver)
		return
	}

	printBanner(cfg)

	engine, err := transcribe.NewFromConfig(ctx, &cfg.Transcribe)
	if err != nil {
		fatal("transcription engine", err)
	}
	slog.Info("[TRANSCRIBE] engine ready", "backend", engine.Backend())

	sink := newSink(ctx, cfg)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		forward(sink, engine.Events())
	}()
	defer func() {
		// Closing the engine ends its event stream.
		_ = engine.Close()
		wg.Wait()
		if sink != nil {
			_ = sink.Close()
		}
	}()

	if *file != "" {
		res, err := engine.TranscribeFile(ctx, *file, engine.DefaultOptions())
		if err != nil {
			fatal("transcribe", err)
		}
		printResult(res)
		return
	}

	rec := audio.NewRecorder(driver, recorderConfig(cfg))
	if err := rec.Initialize(); err != nil {
		fatal("recorder", err)
	}
	defer func() { _ = rec.Close() }()
	go forward(sink, rec.Events())
	slog.Info("[AUDIO] recorder ready", "device", rec.Device().Name)

	hotplug := events.NewBus(0)
	defer hotplug.Close()
	go rec.DeviceManager().Watch(ctx, 2*time.Second, hotplug)
	go forward(sink, hotplug.Events())

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	d := pipeline.New(rec, engine)
	if *stream {
		runLive(ctx, d)
		return
	}
	runDictation(ctx, d)
}

func runDictation(ctx context.Context, d *pipeline.Dictation) {
	if err := d.Start(); err != nil {
		fatal("start recording", err)
	}
	fmt.Println("Recording... Ctrl+C to stop.")
	<-ctx.Done()

	// The recording context is done; transcription gets its own.
	res, err := d.Stop(context.Background())
	if res == nil {
		fatal("transcribe", err)
	}
	if err != nil {
		slog.Warn("[AUDIO] recording ended early", "error", err)
	}
	printResult(res)
}

func runLive(ctx context.Context, d *pipeline.Dictation) {
	id, err := d.StartLive(pipeline.LiveConfig{})
	if err != nil {
		fatal("start live session", err)
	}
	fmt.Printf("Streaming (session %s)... Ctrl+C to stop.\n", id)
	<-ctx.Done()

	text, err := d.StopLive()
	if err != nil {
		slog.Warn("[STREAM] session ended with error", "error", err)
	}
	fmt.Println(text)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Info("no config file found, using defaults")
	cfg := config.Default()
	cfg.ApplyEnv()
	return cfg, nil
}

func recorderConfig(cfg *config.Config) audio.Config {
	return audio.Config{
		Format: audio.Format{
			SampleRate:     int(cfg.Audio.SampleRate),
			Channels:       int(cfg.Audio.Channels),
			BufferDuration: cfg.BufferDuration(),
		},
		QueueSize: cfg.Audio.QueueSize,
		DeviceID:  cfg.Audio.Device,
		Processing: dsp.Settings{
			Gain:             cfg.Audio.Processing.Gain,
			NoiseSuppression: cfg.Audio.Processing.NoiseSuppression,
			AGC:              cfg.Audio.Processing.AGC,
			EchoSuppression:  cfg.Audio.Processing.EchoSuppression,
		},
		VADThreshold: cfg.Audio.VAD.Threshold,
		VADHangover:  cfg.Audio.VAD.Hangover,
	}
}

// newSink connects the Redis event sink when one is configured. A sink that
// cannot connect is logged and skipped.
func newSink(ctx context.Context, cfg *config.Config) *events.RedisSink {
	if cfg.Events.RedisAddr == "" {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sink, err := events.NewRedisSink(pingCtx, cfg.Events.RedisAddr, cfg.Events.RedisChannel)
	if err != nil {
		slog.Warn("[EVENTS] publishing disabled", "error", err)
		return nil
	}
	slog.Info("[EVENTS] publishing", "addr", cfg.Events.RedisAddr, "channel", cfg.Events.RedisChannel)
	return sink
}

// forward logs events and publishes them to sink until ch closes.
func forward(sink *events.RedisSink, ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.Level:
		case events.Error:
			slog.Warn("[EVENTS] error", "job", ev.JobID, "session", ev.SessionID, "error", ev.Err)
		case events.PartialResult:
			fmt.Println(">", ev.Text)
		default:
			slog.Debug("[EVENTS] event", "type", ev.Type, "job", ev.JobID, "phase", ev.Phase, "progress", ev.Progress)
		}
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := sink.Publish(ctx, ev); err != nil {
			slog.Debug("[EVENTS] publish failed", "error", err)
		}
		cancel()
	}
}

func printDevices(driver audio.Driver) {
	devices, err := driver.Devices()
	if err != nil {
		fatal("list devices", err)
	}
	for _, d := range devices {
		mark := " "
		if d.IsDefault {
			mark = "*"
		}
		fmt.Printf("%s %-40s %s\n", mark, d.ID, d.Name)
	}
}

func printModels(cfg *config.Config) {
	for _, m := range models.NewManager(cfg.Transcribe.ModelsDir).List() {
		state := ""
		if m.Downloaded {
			state = "downloaded"
		}
		fmt.Printf("%-10s %-18s %6d MB  %-12s\n", m.ID, m.Name, m.SizeBytes/(1024*1024), state)
	}
}

func printResult(res *transcribe.Result) {
	if res.Text == "" {
		fmt.Println("(no speech detected)")
		return
	}
	fmt.Println(res.Text)
	slog.Info("[TRANSCRIBE] done",
		"backend", res.Backend,
		"language", res.Language,
		"confidence", res.Confidence,
		"audio", res.Duration,
		"processing", res.ProcessingTime)
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	device := cfg.Audio.Device
	if device == "" {
		device = "(default)"
	}
	fmt.Println("=== voicecore ===")
	fmt.Printf("  Backend: %s\n", cfg.Transcribe.Backend)
	fmt.Printf("  Model:   %s\n", cfg.Transcribe.Model)
	fmt.Printf("  Audio:   %dHz, %dch, %s\n", cfg.Audio.SampleRate, cfg.Audio.Channels, device)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}

func fatal(what string, err error) {
	slog.Error(what, "error", err)
	os.Exit(1)
}
