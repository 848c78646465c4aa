package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/vaultlens/internal"
	pkgconfig "github.com/starford/vaultlens/pkg/config"
)

// defaultConfigPath is <user config dir>/vaultlens/config.yaml, or
// config/config.yaml when the platform has no config dir.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("config", "config.yaml")
	}
	return filepath.Join(dir, "vaultlens", "config.yaml")
}

// loadConfig reads the config file, seeding it from the default template on
// first use.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	created, err := pkgconfig.LoadOrCreate(configPath, internal.DefaultConfigTemplate, cfg)
	if created {
		fmt.Fprintf(os.Stderr, "Created default config at %s\nSet vault.path (or VAULTLENS_VAULT) before indexing.\n", configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and opens the vault and its index.
func openApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	app, err := internal.New(internal.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("app init error: %w", err)
	}
	return app, nil
}

// withApp wraps an action that needs an opened App.
func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, cmd, app)
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "vaultlens",
		Usage: "Index an Obsidian vault and query its links, tags, and text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "<user config dir>/vaultlens/config.yaml",
				Value:       defaultConfigPath(),
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Commands: commands(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
