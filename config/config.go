// Package config loads the deployment settings shared by every keyshard
// command: key locations, the prime field, share counts and KDF parameters.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/izouxv/keyshard/field"
	"github.com/izouxv/keyshard/kdf"
	"github.com/izouxv/keyshard/keypair"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete keyshard configuration
type Config struct {
	KeyDir         string    `yaml:"key_dir"`
	PrivateKeyFile string    `yaml:"private_key_file"`
	PublicKeyFile  string    `yaml:"public_key_file"`
	KeyBits        int       `yaml:"key_bits"`
	Field          string    `yaml:"field"`
	Shares         int       `yaml:"shares"`
	Threshold      int       `yaml:"threshold"`
	ShareDir       string    `yaml:"share_dir"`
	KDF            KDFConfig `yaml:"kdf"`
}

// KDFConfig controls PBKDF2 and salt generation
type KDFConfig struct {
	Iterations int `yaml:"iterations"`
	KeyLength  int `yaml:"key_length"`
	SaltSize   int `yaml:"salt_size"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		KeyDir:         "./key",
		PrivateKeyFile: keypair.DefaultPrivateKeyFile,
		PublicKeyFile:  keypair.DefaultPublicKeyFile,
		KeyBits:        keypair.DefaultBits,
		Field:          field.Deployment5500,
		Shares:         5,
		Threshold:      3,
		ShareDir:       "./shares",
		KDF: KDFConfig{
			Iterations: kdf.DefaultIterations,
			KeyLength:  kdf.DefaultKeyLength,
			SaltSize:   kdf.DefaultSaltSize,
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// variable overrides. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	// #nosec G304 - config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("KEYSHARD_KEY_DIR"); dir != "" {
		cfg.KeyDir = dir
	}
	if dir := os.Getenv("KEYSHARD_SHARE_DIR"); dir != "" {
		cfg.ShareDir = dir
	}
	if name := os.Getenv("KEYSHARD_FIELD"); name != "" {
		cfg.Field = name
	}
	if iters := os.Getenv("KEYSHARD_KDF_ITERATIONS"); iters != "" {
		n, err := strconv.Atoi(iters)
		if err != nil {
			log.Printf("Warning: invalid KEYSHARD_KDF_ITERATIONS value %q, using %d: %v",
				iters, cfg.KDF.Iterations, err)
		} else {
			cfg.KDF.Iterations = n
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.KeyDir == "" {
		return fmt.Errorf("%w: key_dir must be specified", ErrInvalidConfig)
	}
	if c.PrivateKeyFile == "" || c.PublicKeyFile == "" {
		return fmt.Errorf("%w: key file names must be specified", ErrInvalidConfig)
	}
	if filepath.Base(c.PrivateKeyFile) != c.PrivateKeyFile || filepath.Base(c.PublicKeyFile) != c.PublicKeyFile {
		return fmt.Errorf("%w: key file names must not contain a directory", ErrInvalidConfig)
	}
	if c.PrivateKeyFile == c.PublicKeyFile {
		return fmt.Errorf("%w: private and public key files must differ", ErrInvalidConfig)
	}
	if c.Threshold < 1 || c.Threshold > c.Shares {
		return fmt.Errorf("%w: need 1 <= threshold <= shares, got threshold=%d shares=%d",
			ErrInvalidConfig, c.Threshold, c.Shares)
	}
	if c.KeyBits < keypair.MinBits {
		return fmt.Errorf("%w: key_bits %d below minimum %d", ErrInvalidConfig, c.KeyBits, keypair.MinBits)
	}

	f, err := c.LookupField()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if need := derSizeEstimate(c.KeyBits) * 8; need >= f.Bits() {
		return fmt.Errorf("%w: %d-bit keys need a field above %d bits, %s has %d",
			ErrInvalidConfig, c.KeyBits, need, f.Name(), f.Bits())
	}

	if err := c.KDFParams().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.KDF.SaltSize < 0 {
		return fmt.Errorf("%w: negative salt_size", ErrInvalidConfig)
	}
	return nil
}

// LookupField resolves the configured field name.
func (c *Config) LookupField() (*field.Field, error) {
	return field.Lookup(c.Field)
}

// KDFParams returns the PBKDF2 parameters.
func (c *Config) KDFParams() kdf.Params {
	return kdf.Params{Iterations: c.KDF.Iterations, KeyLength: c.KDF.KeyLength}
}

// derSizeEstimate bounds the PKCS8 DER length in bytes of an RSA key with a
// bits-long modulus and a small public exponent: n and d are bits/8 each,
// the five CRT values bits/16 each, plus tag and length overhead.
func derSizeEstimate(bits int) int {
	return bits*9/16 + 96
}
