package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/FeelPulse/claudechat/internal/agent"
	"github.com/FeelPulse/claudechat/internal/config"
	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/internal/session"
	"github.com/FeelPulse/claudechat/internal/store"
)

// app bundles what a client command needs
type app struct {
	engine *session.Engine
	store  *store.Gateway
}

func (a *app) Close() error {
	return a.store.Close()
}

// loadConfig reads the config file and applies global flag overrides
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return nil, err
	}
	if mode := cmd.String(modeFlag); mode != "" {
		cfg.Mode = mode
	}
	return cfg, nil
}

// setupLogging configures the default logger; an empty path keeps stderr
func setupLogging(cfg *config.Config, cmd *cli.Command, path string) (func(), error) {
	level := cfg.Log.Level
	if cmd.Bool(debugFlag) {
		level = "debug"
	}
	l := logger.New(&logger.Config{Level: level, Component: config.AppName})

	closer := func() {}
	if path != "" {
		f, err := logger.OpenFile(path)
		if err != nil {
			return nil, err
		}
		l.SetOutput(f)
		closer = func() { f.Close() }
	}

	logger.SetDefaultLogger(l)
	return closer, nil
}

func openStore(cfg *config.Config) (*store.Gateway, error) {
	kv, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store.NewGateway(kv, store.WithDefaultModel(cfg.Model)), nil
}

func storeFromCommand(cmd *cli.Command) (*store.Gateway, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

// openApp wires storage, transport and engine. initialModel, when valid,
// replaces the saved model selection for a new conversation.
func openApp(cfg *config.Config, initialModel string) (*app, error) {
	if result := cfg.Validate(); !result.IsValid() {
		return nil, fmt.Errorf("invalid config: %s", result.Errors[0])
	}

	tr, err := agent.New(cfg, nil)
	if err != nil {
		return nil, err
	}

	gw, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	engine := session.New(session.Options{
		Transport:    tr,
		Store:        gw,
		InitialModel: initialModel,
		Credential:   cfg.Client.APIKey,
		Timeout:      cfg.Client.Timeout(),
	})
	return &app{engine: engine, store: gw}, nil
}
