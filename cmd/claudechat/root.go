package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/FeelPulse/claudechat/internal/agent"
	"github.com/FeelPulse/claudechat/internal/config"
	"github.com/FeelPulse/claudechat/internal/gateway"
	"github.com/FeelPulse/claudechat/internal/models"
	"github.com/FeelPulse/claudechat/internal/store"
	"github.com/FeelPulse/claudechat/internal/tui"
)

const (
	configFlag = "config"
	debugFlag  = "debug"
	modeFlag   = "mode"
	modelFlag  = "model"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:            "claudechat",
		Usage:           "Chat with Claude from the terminal",
		Version:         version,
		HideHelpCommand: true,
		DefaultCommand:  "chat",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   config.DefaultPath(),
			},
			&cli.BoolFlag{
				Name:  debugFlag,
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  modeFlag,
				Usage: "Transport mode (direct or proxy), overrides the config file",
			},
			&cli.StringFlag{
				Name:    modelFlag,
				Aliases: []string{"m"},
				Usage:   "Model to start a new conversation with",
			},
		},
		Commands: []*cli.Command{
			chatCommand(),
			sendCommand(),
			serveCommand(),
			exportCommand(),
			clearCommand(),
			modelsCommand(),
			healthCommand(),
			keyCommand(),
			configCommand(),
			serviceCommand(),
			versionCommand(),
		},
	}
}

func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Open the interactive chat (default)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logPath := cfg.Log.File
			if logPath == "" {
				logPath = config.DefaultLogPath()
			}
			closeLog, err := setupLogging(cfg, cmd, logPath)
			if err != nil {
				return err
			}
			defer closeLog()

			app, err := openApp(cfg, cmd.String(modelFlag))
			if err != nil {
				return err
			}
			defer app.Close()

			return tui.Run(ctx, app.engine, tui.Options{})
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one message and print the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "new",
				Usage: "Start a new conversation first",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("usage: claudechat send <message>")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg, cmd, cfg.Log.File)
			if err != nil {
				return err
			}
			defer closeLog()

			app, err := openApp(cfg, cmd.String(modelFlag))
			if err != nil {
				return err
			}
			defer app.Close()

			if cmd.Bool("new") {
				app.engine.Clear()
			}

			if err := app.engine.Send(ctx, text); err != nil {
				if msg := app.engine.Err(); msg != "" {
					return errors.New(msg)
				}
				return err
			}

			msgs := app.engine.Messages()
			w := out(cmd)
			fmt.Fprintln(w, msgs[len(msgs)-1].Content)
			fmt.Fprintf(w, "\n📊 %s\n", app.engine.Usage().Short())
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the proxy backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (overrides server.bind)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (overrides server.port)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if bind := cmd.String("bind"); bind != "" {
				cfg.Server.Bind = bind
			}
			if port := cmd.Int("port"); port > 0 {
				cfg.Server.Port = port
			}

			closeLog, err := setupLogging(cfg, cmd, cfg.Log.File)
			if err != nil {
				return err
			}
			defer closeLog()

			return gateway.New(cfg).Start(ctx)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the current conversation to a file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "md or json",
				Value:   string(store.FormatMarkdown),
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output path, - for stdout (default claude-chat-YYYY-MM-DD.<ext>)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := store.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg, cmd, cfg.Log.File)
			if err != nil {
				return err
			}
			defer closeLog()

			app, err := openApp(cfg, "")
			if err != nil {
				return err
			}
			defer app.Close()

			now := time.Now()
			content, err := app.engine.Export(format, now)
			if err != nil {
				return err
			}

			path := cmd.String("out")
			if path == "-" {
				_, err := io.WriteString(out(cmd), content)
				return err
			}
			if path == "" {
				path = store.ExportFilename(format, now)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(out(cmd), "✅ Exported %d messages to %s\n", len(app.engine.Messages()), path)
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Discard the saved conversation",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg, cmd, cfg.Log.File)
			if err != nil {
				return err
			}
			defer closeLog()

			app, err := openApp(cfg, "")
			if err != nil {
				return err
			}
			defer app.Close()

			app.engine.Clear()
			fmt.Fprintln(out(cmd), "🗑️  Conversation cleared")
			return nil
		},
	}
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List available models",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			current := ""
			if gw, err := openStore(cfg); err == nil {
				current = gw.LoadSettings().SelectedModel
				gw.Close()
			}

			w := out(cmd)
			for _, m := range models.List() {
				marker := " "
				if m.ID == current {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %-28s %-18s $%g / $%g per 1K tokens\n",
					marker, m.ID, m.Name, m.InputCostPer1K, m.OutputCostPer1K)
			}
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the proxy backend",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			tr, err := agent.New(cfg, nil)
			if err != nil {
				return err
			}
			checker, ok := tr.(agent.HealthChecker)
			if !ok {
				fmt.Fprintf(out(cmd), "Direct mode: requests go straight to %s\n", cfg.Client.APIURL)
				return nil
			}

			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			h := checker.Health(ctx)
			if !h.Healthy {
				return errors.New(agent.MsgProxyUnreachable)
			}
			fmt.Fprintf(out(cmd), "✅ Backend at %s is healthy (server API key configured: %t)\n",
				cfg.Client.ProxyURL, h.AnthropicConfigured)
			return nil
		},
	}
}

func keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the stored API key",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store an API key (prompts when omitted)",
				ArgsUsage: "[key]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					key := cmd.Args().First()
					if key == "" {
						var err error
						if key, err = promptSecret(cmd, "API key: "); err != nil {
							return err
						}
					}
					key = strings.TrimSpace(key)
					if key == "" {
						return fmt.Errorf("no key given")
					}

					gw, err := storeFromCommand(cmd)
					if err != nil {
						return err
					}
					defer gw.Close()

					if err := gw.SaveCredential(key); err != nil {
						return err
					}
					fmt.Fprintf(out(cmd), "✅ API key saved (%s)\n", agent.AuthModeName(key))
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Remove the stored API key",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					gw, err := storeFromCommand(cmd)
					if err != nil {
						return err
					}
					defer gw.Close()

					if err := gw.SaveCredential(""); err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), "🗑️  API key removed")
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Show the stored API key, masked",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					gw, err := storeFromCommand(cmd)
					if err != nil {
						return err
					}
					defer gw.Close()

					key := gw.LoadCredential()
					if key == "" {
						fmt.Fprintln(out(cmd), "No API key stored")
						return nil
					}
					fmt.Fprintf(out(cmd), "%s (%s)\n", maskKey(key), agent.AuthModeName(key))
					return nil
				},
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create or check the config file",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a default config file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.String(configFlag)
					if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					}
					saved, err := config.Save(config.Default(), path)
					if err != nil {
						return err
					}
					fmt.Fprintf(out(cmd), "✅ Config written to %s\n", saved)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check the config file",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					result := cfg.Validate()
					w := out(cmd)
					for _, warn := range result.Warnings {
						fmt.Fprintf(w, "⚠️  %s\n", warn)
					}
					for _, e := range result.Errors {
						fmt.Fprintf(w, "❌ %s\n", e)
					}
					if !result.IsValid() {
						return fmt.Errorf("config has %d error(s)", len(result.Errors))
					}
					fmt.Fprintln(w, "✅ Config is valid")
					return nil
				},
			},
			{
				Name:  "path",
				Usage: "Print the config file path",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					abs, err := filepath.Abs(cmd.String(configFlag))
					if err != nil {
						return err
					}
					fmt.Fprintln(out(cmd), abs)
					return nil
				},
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprint(out(cmd), GetVersionInfo(cmd.String(configFlag)).String())
			return nil
		},
	}
}

// promptSecret reads a line without echo when stdin is a terminal
func promptSecret(cmd *cli.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return string(data), nil
	}

	r := cmd.Root().Reader
	if r == nil {
		r = os.Stdin
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// maskKey keeps the prefix and the last four characters
func maskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("•", len(key))
	}
	return key[:7] + strings.Repeat("•", 8) + key[len(key)-4:]
}
