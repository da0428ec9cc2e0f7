// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tunnelwarden keeps one OpenVPN 3 tunnel connected. The username,
// password, TOTP seed, and configuration profile name live in a
// passphrase-encrypted vault file; the first run creates it
// interactively. Each new session is provisioned from the vault and a
// fresh one-time code, and status signals from the OpenVPN 3 service
// drive reconnection.
//
// Subcommands:
//
//	tunnelwarden [flags] VAULT      supervise the tunnel (default)
//	tunnelwarden info VAULT         print vault metadata, no passphrase
//	tunnelwarden keygen             generate an escrow keypair
//	tunnelwarden export VAULT       seal the record to escrow recipients
//	tunnelwarden import VAULT       create a vault from an escrow blob
//	tunnelwarden version            print version information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tunnelwarden/lib/bitwarden"
	"github.com/bureau-foundation/tunnelwarden/lib/clock"
	"github.com/bureau-foundation/tunnelwarden/lib/config"
	"github.com/bureau-foundation/tunnelwarden/lib/credstore"
	"github.com/bureau-foundation/tunnelwarden/lib/escrow"
	"github.com/bureau-foundation/tunnelwarden/lib/openvpn3"
	"github.com/bureau-foundation/tunnelwarden/lib/otp"
	"github.com/bureau-foundation/tunnelwarden/lib/process"
	"github.com/bureau-foundation/tunnelwarden/lib/prompt"
	"github.com/bureau-foundation/tunnelwarden/lib/secret"
	"github.com/bureau-foundation/tunnelwarden/lib/supervisor"
	"github.com/bureau-foundation/tunnelwarden/lib/vault"
	"github.com/bureau-foundation/tunnelwarden/lib/version"
)

// maxEscrowInput bounds the armored blob read by import.
const maxEscrowInput = 256 << 10

const bitwardenTimeout = 30 * time.Second

// errHelp is returned after usage was printed for -h/--help.
var errHelp = errors.New("help requested")

func main() {
	cli := &command{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := cli.run(context.Background(), os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// command carries the process streams so subcommands can be driven
// from tests.
type command struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

func (c *command) run(ctx context.Context, args []string) error {
	err := c.dispatch(ctx, args)
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}

func (c *command) dispatch(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "info":
			return c.runInfo(args[1:])
		case "keygen":
			return c.runKeygen(args[1:])
		case "export":
			return c.runExport(ctx, args[1:])
		case "import":
			return c.runImport(ctx, args[1:])
		case "version":
			fmt.Fprintln(c.stdout, version.Full())
			return nil
		case "help":
			c.printUsage()
			return nil
		}
	}
	return c.runSupervisor(ctx, args)
}

func (c *command) printUsage() {
	fmt.Fprint(c.stderr, `tunnelwarden: keep an OpenVPN 3 tunnel connected from an encrypted vault

Usage:
  tunnelwarden [flags] VAULT
  tunnelwarden info VAULT
  tunnelwarden keygen [--output FILE]
  tunnelwarden export --recipient age1... [flags] VAULT
  tunnelwarden import --identity FILE --input FILE [flags] VAULT
  tunnelwarden version

Flags:
  --config FILE        YAML configuration (default: $TUNNELWARDEN_CONFIG)
  --log-format FORMAT  auto, text, or json
  --log-level LEVEL    debug, info, warn, or error

A missing VAULT is created interactively on first run.
`)
}

// globalFlags are accepted by every subcommand that loads configuration.
type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func (g *globalFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "YAML configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&g.logFormat, "log-format", "", "log format: auto, text, or json (overrides config)")
	flagSet.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, or error (overrides config)")
}

// parseFlags parses args and requires exactly one positional VAULT.
func (c *command) parseFlags(flagSet *pflag.FlagSet, args []string, usage string) (string, error) {
	flagSet.SetOutput(c.stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: %s\n\nFlags:\n%s", usage, flagSet.FlagUsages())
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", errHelp
		}
		return "", process.Usage(err)
	}
	positional := flagSet.Args()
	if len(positional) != 1 {
		flagSet.Usage()
		return "", process.Usage(fmt.Errorf("expected exactly one VAULT argument, got %d", len(positional)))
	}
	return positional[0], nil
}

// setup loads configuration, applies flag overrides, and builds the
// process logger.
func (c *command) setup(flags globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, process.Usage(err)
	}
	logger, err := newLogger(c.stderr, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (c *command) runSupervisor(ctx context.Context, args []string) error {
	var flags globalFlags
	flagSet := pflag.NewFlagSet("tunnelwarden", pflag.ContinueOnError)
	flags.register(flagSet)
	vaultPath, err := c.parseFlags(flagSet, args, "tunnelwarden [flags] VAULT")
	if err != nil {
		return err
	}

	cfg, logger, err := c.setup(flags)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := notifyContext(ctx)
	defer stop()

	terminal := prompt.New(c.stdin, c.stderr)
	enricher, err := bitwardenEnricher(cfg.Bitwarden, terminal, logger)
	if err != nil {
		return err
	}
	store := credstore.New(credstore.Options{
		Prompter: terminal,
		Enricher: enricher,
		Logger:   logger,
	})
	record, err := store.Obtain(ctx, vaultPath)
	if err != nil {
		return interrupted(ctx, err)
	}
	logger = logger.With("config", record.Config)

	client, err := openvpn3.Dial(logger)
	if err != nil {
		return fmt.Errorf("connecting to the OpenVPN 3 service: %w", err)
	}
	defer client.Close()

	tunnelSupervisor := supervisor.New(supervisor.Options{
		Service:     client,
		Credentials: record,
		OTP: &otp.Command{
			Path:    cfg.OTP.Command,
			Digits:  cfg.OTP.Digits,
			Timeout: cfg.OTP.Timeout,
		},
		Reconnect:       reconnectPolicy(cfg.Reconnect),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Clock:           clock.Real(),
		Logger:          logger,
	})

	logger.Info("tunnelwarden starting", "version", version.Info(), "vault", vaultPath)
	if err := tunnelSupervisor.Run(ctx); err != nil {
		return err
	}
	logger.Info("tunnelwarden stopped")
	return nil
}

// notifyContext cancels ctx on SIGINT or SIGTERM. Prompts and the
// supervisor both watch it, so an interrupt at a passphrase prompt ends
// the process with the terminal restored.
func notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// interrupted labels err when it was caused by cancelling ctx.
func interrupted(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}

// reconnectPolicy maps the configuration section onto the supervisor's
// backoff parameters.
func reconnectPolicy(reconnect config.ReconnectConfig) supervisor.ReconnectPolicy {
	return supervisor.ReconnectPolicy{
		InitialInterval:     reconnect.InitialInterval,
		MaxInterval:         reconnect.MaxInterval,
		Multiplier:          reconnect.Multiplier,
		RandomizationFactor: reconnect.Jitter,
		MaxAttempts:         reconnect.MaxAttempts,
	}
}

// bitwardenEnricher returns nil when no Bitwarden item is configured.
func bitwardenEnricher(settings config.BitwardenConfig, prompter bitwarden.PasswordPrompter, logger *slog.Logger) (credstore.Enricher, error) {
	if !settings.Enabled() {
		return nil, nil
	}
	client, err := bitwarden.New(settings.URL, &http.Client{Timeout: bitwardenTimeout})
	if err != nil {
		return nil, err
	}
	return &bitwarden.Resolver{
		Client:       client,
		UsernameItem: settings.UsernameItem,
		SecretItem:   settings.SecretItem,
		Prompter:     prompter,
		Logger:       logger.With("source", "bitwarden"),
	}, nil
}

// runInfo prints vault metadata without asking for the passphrase.
func (c *command) runInfo(args []string) error {
	flagSet := pflag.NewFlagSet("tunnelwarden info", pflag.ContinueOnError)
	vaultPath, err := c.parseFlags(flagSet, args, "tunnelwarden info VAULT")
	if err != nil {
		return err
	}

	file, err := vault.Load(vaultPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "path:        %s\n", vaultPath)
	fmt.Fprintf(c.stdout, "version:     %d\n", file.Version())
	fmt.Fprintf(c.stdout, "fingerprint: %s\n", file.Fingerprint())
	fmt.Fprintf(c.stdout, "size:        %d bytes\n", len(file.Bytes()))
	return nil
}

// runKeygen prints the public key to stdout and the identity to stderr,
// or to a new file created with mode 0600 when --output is given.
func (c *command) runKeygen(args []string) error {
	var outputPath string
	flagSet := pflag.NewFlagSet("tunnelwarden keygen", pflag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	flagSet.StringVarP(&outputPath, "output", "o", "", "write the identity to this file instead of stderr")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return process.Usage(err)
	}
	if flagSet.NArg() != 0 {
		return process.Usage(fmt.Errorf("keygen takes no arguments"))
	}

	keypair, err := escrow.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	identity := keypair.IdentityFile()
	defer secret.Zero(identity)

	if outputPath == "" {
		if _, err := c.stderr.Write(identity); err != nil {
			return fmt.Errorf("writing identity: %w", err)
		}
	} else if err := writeNewFile(outputPath, identity); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, keypair.PublicKey)
	return nil
}

func writeNewFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// runExport unlocks the vault and writes an age-armored copy of the
// record to stdout.
func (c *command) runExport(ctx context.Context, args []string) error {
	var flags globalFlags
	var recipients []string
	flagSet := pflag.NewFlagSet("tunnelwarden export", pflag.ContinueOnError)
	flags.register(flagSet)
	flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age public key to seal to (repeatable)")
	vaultPath, err := c.parseFlags(flagSet, args, "tunnelwarden export --recipient age1... [flags] VAULT")
	if err != nil {
		return err
	}
	// Bad recipients fail before the passphrase prompt.
	if _, err := escrow.ParseRecipients(recipients); err != nil {
		return process.Usage(err)
	}

	_, logger, err := c.setup(flags)
	if err != nil {
		return err
	}
	ctx, stop := notifyContext(ctx)
	defer stop()

	store := credstore.New(credstore.Options{
		Prompter: prompt.New(c.stdin, c.stderr),
		Logger:   logger,
	})
	record, err := store.Open(ctx, vaultPath)
	if err != nil {
		return interrupted(ctx, err)
	}

	blob, err := escrow.Export(record, recipients)
	if err != nil {
		return err
	}
	if _, err := c.stdout.Write(blob); err != nil {
		return fmt.Errorf("writing escrow blob: %w", err)
	}
	logger.Info("record exported", "config", record.Config, "recipients", len(recipients))
	return nil
}

// runImport creates a new vault from an escrow blob. The new vault's
// passphrase is prompted for and confirmed.
func (c *command) runImport(ctx context.Context, args []string) error {
	var flags globalFlags
	var identityPath, inputPath string
	flagSet := pflag.NewFlagSet("tunnelwarden import", pflag.ContinueOnError)
	flags.register(flagSet)
	flagSet.StringVarP(&identityPath, "identity", "i", "", "age identity file (required)")
	flagSet.StringVar(&inputPath, "input", "-", "escrow blob to import, - for stdin")
	vaultPath, err := c.parseFlags(flagSet, args, "tunnelwarden import --identity FILE --input FILE [flags] VAULT")
	if err != nil {
		return err
	}
	if identityPath == "" {
		return process.Usage(fmt.Errorf("--identity is required"))
	}
	if identityPath == "-" && inputPath == "-" {
		return process.Usage(fmt.Errorf("--identity and --input cannot both read stdin"))
	}

	_, logger, err := c.setup(flags)
	if err != nil {
		return err
	}

	identity, err := secret.ReadFile(identityPath)
	if err != nil {
		return fmt.Errorf("reading identity: %w", err)
	}
	defer identity.Close()

	blob, err := c.readInput(inputPath)
	if err != nil {
		return err
	}
	record, err := escrow.Import(blob, identity)
	if err != nil {
		return err
	}

	ctx, stop := notifyContext(ctx)
	defer stop()

	store := credstore.New(credstore.Options{
		Prompter: prompt.New(c.stdin, c.stderr),
		Logger:   logger,
	})
	return interrupted(ctx, store.Create(ctx, vaultPath, record))
}

func (c *command) readInput(path string) ([]byte, error) {
	var reader io.Reader = c.stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening escrow blob: %w", err)
		}
		defer file.Close()
		reader = file
	}
	data, err := io.ReadAll(io.LimitReader(reader, maxEscrowInput+1))
	if err != nil {
		return nil, fmt.Errorf("reading escrow blob: %w", err)
	}
	if len(data) > maxEscrowInput {
		return nil, fmt.Errorf("escrow blob exceeds %d bytes", maxEscrowInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("escrow blob is empty")
	}
	return data, nil
}
