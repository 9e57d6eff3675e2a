package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocalis-ai/voicelive/internal/store"
	"github.com/vocalis-ai/voicelive/pkg/audio"
	"github.com/vocalis-ai/voicelive/pkg/avatar"
	"github.com/vocalis-ai/voicelive/pkg/pricing"
	"github.com/vocalis-ai/voicelive/pkg/protocol"
	"github.com/vocalis-ai/voicelive/pkg/session"
	"github.com/vocalis-ai/voicelive/pkg/settings"
	"github.com/vocalis-ai/voicelive/pkg/usage"
)

var flagMetricsAddr string

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Start an interactive voice session",
	RunE:  runTalk,
}

func init() {
	talkCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(talkCmd)
}

// engineRelay breaks the construction cycles around the engine: the avatar
// supervisor needs an offerer and the capture device needs a frame sink
// before the engine exists.
type engineRelay struct {
	mu  sync.Mutex
	eng *session.Engine
}

func (r *engineRelay) set(eng *session.Engine) {
	r.mu.Lock()
	r.eng = eng
	r.mu.Unlock()
}

func (r *engineRelay) engine() *session.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eng
}

func (r *engineRelay) SendAvatarOffer(sdp string) {
	if eng := r.engine(); eng != nil {
		eng.SendAvatarOffer(sdp)
	}
}

func (r *engineRelay) SendAudio(pcm []byte) {
	if eng := r.engine(); eng != nil {
		eng.SendAudio(pcm)
	}
}

func (r *engineRelay) NotifyLevel(level float64, role protocol.Role) {
	if eng := r.engine(); eng != nil {
		eng.NotifyLevel(level, role)
	}
}

func runTalk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	table, err := pricing.Load(cmd.Context(), http.DefaultClient, cfg.PricingURL)
	if err != nil {
		logger.Warn("pricing table unavailable, using defaults", "err", err)
	}
	ledger := usage.NewLedger(table, logger)
	durations := &usage.DurationAccumulator{}

	playback, err := audio.NewPlayback(audio.PlaybackConfig{SampleRateHz: cfg.OutputSampleRateHz})
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer playback.Close()

	metrics := session.NewMetrics("")
	if flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	relay := &engineRelay{}
	var avatarPath session.AvatarPath
	if cfg.AvatarEnabled {
		sup, err := avatar.New(avatar.Config{
			Offerer: relay,
			Logger:  logger,
			OnFallback: func(err error) {
				fmt.Printf("[avatar] upgrade failed, continuing with audio: %v\n", err)
			},
		})
		if err != nil {
			return err
		}
		avatarPath = sup
	}

	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRateHz: cfg.InputSampleRateHz,
		BlockMS:      20,
		OnFrame:      relay.SendAudio,
		OnLevel: func(level float64) {
			relay.NotifyLevel(level, protocol.RoleUser)
		},
	})
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}
	defer func() { _ = capture.Close() }()

	eng, err := session.NewEngine(session.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Ledger:    ledger,
		Durations: durations,
		Playback:  playback,
		Capture:   capture,
		Avatar:    avatarPath,
		Metrics:   metrics,
		Sinks: session.Sinks{
			Transcript: func(role protocol.Role, text string) {
				fmt.Printf("[%s] %s\n", role, text)
			},
			Status: func(label string, state session.Status) {
				fmt.Printf("-- %s\n", label)
			},
		},
	})
	if err != nil {
		return err
	}
	relay.set(eng)

	prefs := settings.NewStore(settings.Settings{
		Model:         cfg.Model,
		Voice:         cfg.Voice,
		Locale:        cfg.Locale,
		AvatarEnabled: cfg.AvatarEnabled,
	})

	changes, cancelChanges := prefs.Subscribe(4)
	defer cancelChanges()
	go func() {
		for snapshot := range changes {
			capture.SetMuted(snapshot.Muted)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	startedAt := time.Now()
	if err := eng.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		eng.Disconnect()
		saveHistory(eng, cfg, startedAt)
		printUsage(ledger, durations)
	}()
	eng.SendConfig()

	fmt.Println("Listening... commands: /t <text>, /stop, /mute, q")
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			switch {
			case input == "":
			case strings.EqualFold(input, "q"):
				return nil
			case strings.HasPrefix(input, "/t "):
				eng.SendText(strings.TrimPrefix(input, "/t "))
			case input == "/stop":
				eng.SendStop()
			case input == "/mute":
				snapshot := prefs.Update(func(s *settings.Settings) { s.Muted = !s.Muted })
				if snapshot.Muted {
					fmt.Println("-- Microphone muted")
				} else {
					fmt.Println("-- Microphone live")
				}
			default:
				fmt.Println("commands: /t <text>, /stop, /mute, q")
			}
		}
	}
}

func saveHistory(eng *session.Engine, cfg session.Config, startedAt time.Time) {
	if flagHistoryPath == "" {
		return
	}
	sess, ok := eng.Current()
	if !ok {
		return
	}
	history, err := store.Open(flagHistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history unavailable: %v\n", err)
		return
	}
	defer func() { _ = history.Close() }()

	err = history.SaveSession(store.SessionRecord{
		SessionID:     sess.ID,
		Model:         sess.Model,
		Endpoint:      cfg.Endpoint,
		StartedAt:     startedAt,
		EndedAt:       time.Now(),
		InputAudioMS:  eng.Durations().InputMS(),
		OutputAudioMS: eng.Durations().OutputMS(),
		TotalCost:     eng.Ledger().TotalCost(),
		Models:        eng.Ledger().Snapshot(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "history save failed: %v\n", err)
	}
}

func printUsage(ledger *usage.Ledger, durations *usage.DurationAccumulator) {
	entries := ledger.Snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Session usage:")
	for _, entry := range entries {
		fmt.Printf("  %-28s in %6d  out %6d  cached %6d   $%.5f\n",
			entry.Model, entry.Usage.Input, entry.Usage.Output, entry.Usage.Cached, entry.Cost.Total)
	}
	fmt.Printf("  audio: %s in, %s out\n",
		formatMS(durations.InputMS()), formatMS(durations.OutputMS()))
	fmt.Printf("  total: $%.5f\n", ledger.TotalCost())
}

func formatMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
