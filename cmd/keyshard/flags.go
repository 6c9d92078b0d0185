package main

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/izouxv/keyshard/config"
)

// SetupLogger builds the process logger from the log flags. Logs go to
// stderr so stdout carries only command output.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if cCtx.Bool(LogDebugFlag.Name) {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cCtx.Bool(LogJsonFlag.Name) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler).With("service", cCtx.App.Name)

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads --config when given and lets explicit flags win.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := cCtx.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cCtx.IsSet(KeyDirFlag.Name) {
		cfg.KeyDir = cCtx.String(KeyDirFlag.Name)
	}
	if cCtx.IsSet(ShareDirFlag.Name) {
		cfg.ShareDir = cCtx.String(ShareDirFlag.Name)
	}
	if cCtx.IsSet(FieldFlag.Name) {
		cfg.Field = cCtx.String(FieldFlag.Name)
	}
	if cCtx.IsSet(SharesFlag.Name) {
		cfg.Shares = cCtx.Int(SharesFlag.Name)
	}
	if cCtx.IsSet(ThresholdFlag.Name) {
		cfg.Threshold = cCtx.Int(ThresholdFlag.Name)
	}
	if cCtx.IsSet(KeyBitsFlag.Name) {
		cfg.KeyBits = cCtx.Int(KeyBitsFlag.Name)
	}
	if cCtx.IsSet(IterationsFlag.Name) {
		cfg.KDF.Iterations = cCtx.Int(IterationsFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "path to a YAML config file",
	EnvVars: []string{"KEYSHARD_CONFIG"},
}

var KeyDirFlag = &cli.StringFlag{
	Name:  "key-dir",
	Value: "./key",
	Usage: "directory holding the key pair",
}

var ShareDirFlag = &cli.StringFlag{
	Name:  "share-dir",
	Value: "./shares",
	Usage: "directory share files are written to and read from",
}

var FieldFlag = &cli.StringFlag{
	Name:  "field",
	Usage: "prime field name, or custom:<hex>",
}

var SharesFlag = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
	Usage: "number of shares to create",
}

var ThresholdFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "number of shares needed to recover",
}

var KeyBitsFlag = &cli.IntFlag{
	Name:  "key-bits",
	Value: 1024,
	Usage: "RSA modulus size for keygen",
}

var IterationsFlag = &cli.IntFlag{
	Name:  "iterations",
	Value: 100000,
	Usage: "PBKDF2 iteration count",
}

var PassphraseFlag = &cli.StringFlag{
	Name:     "passphrase",
	Usage:    "passphrase for derive, seal and unseal",
	EnvVars:  []string{"KEYSHARD_PASSPHRASE"},
	Required: true,
}

var InFlag = &cli.StringFlag{
	Name:  "in",
	Usage: "input file (default: stdin)",
}

var OutFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "output file (default: stdout)",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var CommonFlags = []cli.Flag{
	ConfigFlag,
	KeyDirFlag,
	ShareDirFlag,
	FieldFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}
