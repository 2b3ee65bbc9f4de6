// Command test-capture is a manual test for audio capture. It lists capture
// devices, records for a few seconds while printing the input level, and
// optionally writes what it heard to a WAV file.
//
// Usage:
//
//	go run ./cmd/test-capture [--device id] [--seconds 5] [--out capture.wav]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/voicecore/internal/audio"
	"github.com/chaz8081/voicecore/internal/events"
)

func main() {
	device := flag.String("device", "", "capture device id (default: system default)")
	seconds := flag.Int("seconds", 5, "how long to record")
	out := flag.String("out", "", "write the recording to this WAV file")
	flag.Parse()

	driver, err := audio.NewMalgoDriver()
	if err != nil {
		fmt.Fprintln(os.Stderr, "audio driver:", err)
		os.Exit(1)
	}
	defer driver.Close()

	devices, err := driver.Devices()
	if err != nil {
		fmt.Fprintln(os.Stderr, "devices:", err)
		os.Exit(1)
	}
	fmt.Println("Capture devices:")
	for _, d := range devices {
		mark := " "
		if d.IsDefault {
			mark = "*"
		}
		fmt.Printf("  %s %s (%s)\n", mark, d.Name, d.ID)
	}

	cfg := audio.DefaultConfig()
	cfg.DeviceID = *device
	rec := audio.NewRecorder(driver, cfg)
	if err := rec.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, "recorder:", err)
		os.Exit(1)
	}
	defer rec.Close()

	// Draw a level meter from the recorder's events.
	go func() {
		for ev := range rec.Events() {
			switch ev.Type {
			case events.Level:
				bar := int(ev.Level * 50)
				if bar > 50 {
					bar = 50
				}
				fmt.Printf("\r[%-50s] %.3f", strings.Repeat("#", bar), ev.Level)
			case events.VoiceDetected:
				if ev.Active {
					fmt.Print("  speech")
				}
			case events.Error:
				fmt.Printf("\nERROR: %v\n", ev.Err)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Recording from %s for %ds... Ctrl+C to stop early.\n", rec.Device().Name, *seconds)
	if err := rec.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}
	select {
	case <-time.After(time.Duration(*seconds) * time.Second):
	case <-sig:
	}

	buf, err := rec.Stop()
	fmt.Println()
	if err != nil {
		fmt.Println("Stopped with error:", err)
	}
	if buf == nil {
		return
	}
	stats := rec.Stats()
	fmt.Printf("Captured %.2fs (%d frames), peak %.3f, %d overruns, avg latency %s\n",
		buf.Duration().Seconds(), buf.Frames, rec.Peak(), stats.Overruns, stats.AverageLatency)

	if *out != "" {
		if err := audio.SaveWAV(*out, buf); err != nil {
			fmt.Fprintln(os.Stderr, "save:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote", *out)
	}
}
