package agents

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	pkg "github.com/voicewire/voicewire"
	"github.com/voicewire/voicewire/shared"
)

// CLIAgent drives one voice session from a terminal: microphone in,
// speaker out, with the live transcript printed through the Printer.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	client  *pkg.VoiceSessionClient

	mu       sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed when the session has ended, locally or remotely.
func (a *CLIAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		a.done = make(chan struct{})
	}
	return a.done
}

func (a *CLIAgent) finish() {
	a.mu.Lock()
	if a.done == nil {
		a.done = make(chan struct{})
	}
	a.mu.Unlock()
	a.doneOnce.Do(func() { close(a.done) })
}

// Spawn connects, starts capture, and returns once audio is flowing.
// The session then runs until Close or a remote disconnect; observe
// Done for the end.
func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	apiKey string,
	cfg *pkg.SessionConfig,
	printer *shared.Printer,
	baseUrl ...string,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if apiKey == "" {
		return shared.ErrNoAPIKey
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning CLI agent")
	if err := a.printer.Writeln("🤖 Spawning CLI agent...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	// Creating client
	var err error
	if len(baseUrl) > 0 {
		a.client, err = pkg.NewVoiceSessionClient(a.logger, apiKey, baseUrl[0])
	} else {
		a.client, err = pkg.NewVoiceSessionClient(a.logger, apiKey, "")
	}
	if err != nil {
		a.logger.Error("creating client", err)
		return err
	}
	a.logger.Info("client created successfully")

	// Showing session config
	if err := a.printer.Writeln("📋 Session Config\n", 0); err != nil {
		a.logger.Error("printing session config message", err)
	}
	yamlBytes, err := yaml.MarshalWithOptions(cfg, yaml.UseJSONMarshaler())
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session config", err)
		return err
	}

	// Wiring hooks before the transport opens
	a.client.OnEvent(a.handleEvent)
	a.client.OnError(func(err error) {
		a.logger.Error("session error", err)
	})
	a.client.OnDisconnect(func(err error) {
		if err != nil {
			a.logger.Error("session disconnected", err)
			_ = a.printer.Writeln("\n❌ Session disconnected.", 0)
		} else {
			a.logger.Info("session ended")
			_ = a.printer.Writeln("\n👋 Session ended.", 0)
		}
		a.finish()
	})

	// Connecting
	if err := a.printer.Writeln("\n🔌 Connecting...", 0); err != nil {
		a.logger.Error("printing connecting message", err)
	}
	if err := a.client.Connect(ctx, cfg); err != nil {
		a.logger.Error("connecting", err)
		if perr := a.printer.Writeln("❌ Unable to connect. Check your API key and network.\n", 0); perr != nil {
			a.logger.Error("printing connect failure message", perr)
		}
		return err
	}
	if err := a.printer.Writeln("✅ Connected.\n", 0); err != nil {
		a.logger.Error("printing connect success message", err)
	}

	// Getting microphone access and stream
	if err := a.printer.Writeln("🎤 Accessing microphone...", 0); err != nil {
		a.logger.Error("printing microphone access message", err)
	}
	if err := a.client.StartCapture(); err != nil {
		a.logger.Error("starting capture", err)
		if perr := a.printer.Writeln("❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.\n", 0); perr != nil {
			a.logger.Error("printing microphone access failure message", perr)
		}
		_ = a.client.Disconnect()
		return err
	}
	a.logger.Info("microphone capture started successfully")
	if err := a.printer.Writeln("✅ Microphone access granted. Speak when ready.\n", 0); err != nil {
		a.logger.Error("printing microphone access success message", err)
	}
	return nil
}

// handleEvent renders the live transcript and turn markers.
func (a *CLIAgent) handleEvent(event *pkg.InboundEvent) {
	switch event.Kind {
	case pkg.KindSpeechStarted:
		// Barge-in: stop the assistant before the user's words land.
		a.client.Interrupt()
		if err := a.printer.Writeln("\n🗣  You:", 0); err != nil {
			a.logger.Error("printing speech started marker", err)
		}
	case pkg.KindTextDelta:
		if err := a.printer.Write(event.TextDelta.Delta, 0); err != nil {
			a.logger.Error("printing transcript delta", err)
		}
	case pkg.KindTextDone:
		if err := a.printer.Writeln("", 0); err != nil {
			a.logger.Error("printing transcript end", err)
		}
	case pkg.KindResponseCreated:
		if err := a.printer.Writeln("\n🤖 Assistant:", 0); err != nil {
			a.logger.Error("printing response marker", err)
		}
	case pkg.KindError:
		a.logger.Warn(
			"remote error event",
			zap.String("code", event.RemoteError.Code),
			zap.String("message", event.RemoteError.Message),
		)
	}
}

// SendText injects a typed message into the conversation.
func (a *CLIAgent) SendText(text string) error {
	if a.client == nil {
		return shared.ErrNotConnected
	}
	return a.client.SendText(text)
}

// Close hangs up. Safe to call more than once.
func (a *CLIAgent) Close() error {
	if a.client == nil {
		return nil
	}
	a.client.StopCapture()
	if err := a.client.Disconnect(); err != nil && !errors.Is(err, shared.ErrNotConnected) {
		return err
	}
	return nil
}
