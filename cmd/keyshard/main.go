// Command keyshard generates an RSA key pair, splits the private key into
// Shamir shares, and recovers it from a threshold of them.
package main

import (
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/izouxv/keyshard/config"
	"github.com/izouxv/keyshard/kdf"
	"github.com/izouxv/keyshard/keypair"
	"github.com/izouxv/keyshard/keystore"
	"github.com/izouxv/keyshard/recovery"
	"github.com/izouxv/keyshard/shamir"
	"github.com/izouxv/keyshard/sharestore"
)

var flagForce = &cli.BoolFlag{
	Name:  "force",
	Usage: "replace an existing key pair",
}

var flagPrint = &cli.BoolFlag{
	Name:  "print",
	Usage: "also print shares as index-value-hash lines",
}

var flagNoMedia = &cli.BoolFlag{
	Name:  "no-media",
	Usage: "do not write share files",
}

var flagShare = &cli.StringSliceFlag{
	Name:  "share",
	Usage: "a share as index-value[-hash] or JSON; repeat for each share. Without it shares are read from --share-dir",
}

var flagRestore = &cli.BoolFlag{
	Name:  "restore",
	Usage: "write the recovered key back to the key directory",
}

var flagSalt = &cli.StringFlag{
	Name:  "salt",
	Usage: "hex salt for derive (default: random)",
}

var flagScrypt = &cli.BoolFlag{
	Name:  "scrypt",
	Usage: "seal with scrypt instead of PBKDF2",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "keyshard",
		Usage: "split an RSA private key into Shamir shares and recover it",
		Flags: CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "generate the key pair",
				Flags:  []cli.Flag{KeyBitsFlag, flagForce},
				Action: keygen,
			},
			{
				Name:   "split",
				Usage:  "split the private key into shares",
				Flags:  []cli.Flag{SharesFlag, ThresholdFlag, flagPrint, flagNoMedia},
				Action: split,
			},
			{
				Name:   "recover",
				Usage:  "rebuild the private key from shares",
				Flags:  []cli.Flag{SharesFlag, ThresholdFlag, flagShare, flagRestore, OutFlag},
				Action: recoverKey,
			},
			{
				Name:   "encrypt",
				Usage:  "encrypt a short message to base64 with the public key",
				Flags:  []cli.Flag{InFlag, OutFlag},
				Action: encrypt,
			},
			{
				Name:   "decrypt",
				Usage:  "decrypt base64 text with the private key",
				Flags:  []cli.Flag{InFlag, OutFlag},
				Action: decrypt,
			},
			{
				Name:   "derive",
				Usage:  "derive a symmetric key from a passphrase",
				Flags:  []cli.Flag{PassphraseFlag, flagSalt, IterationsFlag},
				Action: derive,
			},
			{
				Name:   "seal",
				Usage:  "encrypt a file (usually a share file) under a passphrase",
				Flags:  []cli.Flag{PassphraseFlag, IterationsFlag, flagScrypt, InFlag, OutFlag},
				Action: seal,
			},
			{
				Name:   "unseal",
				Usage:  "decrypt the output of seal",
				Flags:  []cli.Flag{PassphraseFlag, InFlag, OutFlag},
				Action: unseal,
			},
		},
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (*keypair.Store, error) {
	return keypair.NewStore(cfg.KeyDir,
		keypair.WithFileNames(cfg.PrivateKeyFile, cfg.PublicKeyFile),
		keypair.WithKeyBits(cfg.KeyBits),
		keypair.WithLogger(logger),
	)
}

func newService(cCtx *cli.Context, useMedia bool) (*recovery.Service, *keypair.Store, error) {
	logger := SetupLogger(cCtx)
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return nil, nil, err
	}
	keys, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	f, err := cfg.LookupField()
	if err != nil {
		return nil, nil, err
	}

	var media *sharestore.Store
	if useMedia {
		media = sharestore.New(nil, cfg.ShareDir, logger)
	}
	svc, err := recovery.NewService(keys, media, recovery.Options{
		Field:     f,
		Shares:    cfg.Shares,
		Threshold: cfg.Threshold,
	}, logger)
	return svc, keys, err
}

func keygen(cCtx *cli.Context) error {
	logger := SetupLogger(cCtx)
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return err
	}
	keys, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	if _, err := keys.LoadPrivatePEM(); err == nil && !cCtx.Bool(flagForce.Name) {
		priv, _ := keys.Paths()
		return fmt.Errorf("%s already exists, use --force to replace it", priv)
	}

	if _, err := keys.Generate(); err != nil {
		return err
	}
	priv, pub := keys.Paths()
	fmt.Fprintf(cCtx.App.Writer, "private key: %s\npublic key: %s\n", priv, pub)
	return nil
}

func split(cCtx *cli.Context) error {
	svc, _, err := newService(cCtx, !cCtx.Bool(flagNoMedia.Name))
	if err != nil {
		return err
	}
	set, err := svc.SplitKeyFile()
	if err != nil {
		return err
	}

	w := cCtx.App.Writer
	fmt.Fprintf(w, "set %s: %d shares, %d needed\n", set.ID, set.Total, set.Threshold)
	if cCtx.Bool(flagPrint.Name) {
		for _, s := range set.Shares {
			fmt.Fprintln(w, s.String())
		}
	}
	return nil
}

func recoverKey(cCtx *cli.Context) error {
	typed := cCtx.StringSlice(flagShare.Name)
	svc, keys, err := newService(cCtx, len(typed) == 0)
	if err != nil {
		return err
	}

	var priv *rsa.PrivateKey
	if len(typed) == 0 {
		priv, err = svc.RecoverFromMedia()
	} else {
		shares := make([]*shamir.Share, 0, len(typed))
		for _, text := range typed {
			s, err := shamir.ParseShareText(text)
			if err != nil {
				return err
			}
			shares = append(shares, s)
		}
		priv, err = svc.Recover(nil, shares)
	}
	if err != nil {
		return err
	}

	w := cCtx.App.Writer
	if cCtx.Bool(flagRestore.Name) {
		if _, err := keys.SavePrivate(priv); err != nil {
			return err
		}
		path, _ := keys.Paths()
		fmt.Fprintf(w, "restored %s\n", path)
	}
	if out := cCtx.String(OutFlag.Name); out != "" {
		data, err := keypair.MarshalPrivateKeyPEM(priv)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", out)
	}
	fmt.Fprintf(w, "recovered %d-bit key\n", priv.N.BitLen())
	return nil
}

func encrypt(cCtx *cli.Context) error {
	logger := SetupLogger(cCtx)
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return err
	}
	keys, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	pub, err := keys.LoadPublic()
	if err != nil {
		return err
	}

	msg, err := readInput(cCtx)
	if err != nil {
		return err
	}
	text, err := keypair.EncryptToText(msg, pub)
	if err != nil {
		return err
	}
	return writeOutput(cCtx, []byte(text+"\n"))
}

func decrypt(cCtx *cli.Context) error {
	logger := SetupLogger(cCtx)
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return err
	}
	keys, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	priv, err := keys.LoadPrivate()
	if err != nil {
		return err
	}

	text, err := readInput(cCtx)
	if err != nil {
		return err
	}
	msg, err := keypair.DecryptFromText(string(text), priv)
	if err != nil {
		return err
	}
	return writeOutput(cCtx, msg)
}

func derive(cCtx *cli.Context) error {
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return err
	}

	var salt []byte
	if s := cCtx.String(flagSalt.Name); s != "" {
		if salt, err = hex.DecodeString(s); err != nil {
			return fmt.Errorf("bad salt: %w", err)
		}
	} else if salt, err = kdf.NewSalt(cfg.KDF.SaltSize); err != nil {
		return err
	}

	key, err := kdf.Derive([]byte(cCtx.String(PassphraseFlag.Name)), salt, cfg.KDFParams())
	if err != nil {
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "salt: %s\nkey: %s\n", hex.EncodeToString(salt), hex.EncodeToString(key))
	return nil
}

func seal(cCtx *cli.Context) error {
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return err
	}
	data, err := readInput(cCtx)
	if err != nil {
		return err
	}

	opts := keystore.DefaultOptions()
	opts.PBKDF2 = cfg.KDFParams()
	if cfg.KDF.SaltSize > 0 {
		opts.SaltSize = cfg.KDF.SaltSize
	}
	if cCtx.Bool(flagScrypt.Name) {
		opts.KDF = keystore.KDFScrypt
	}

	sealed, err := keystore.Seal(data, cCtx.String(PassphraseFlag.Name), opts)
	if err != nil {
		return err
	}
	return writeOutput(cCtx, append(sealed, '\n'))
}

func unseal(cCtx *cli.Context) error {
	data, err := readInput(cCtx)
	if err != nil {
		return err
	}
	plain, err := keystore.Open(data, cCtx.String(PassphraseFlag.Name))
	if err != nil {
		return err
	}
	return writeOutput(cCtx, plain)
}

func readInput(cCtx *cli.Context) ([]byte, error) {
	if path := cCtx.String(InFlag.Name); path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(cCtx.App.Reader)
}

func writeOutput(cCtx *cli.Context, data []byte) error {
	if path := cCtx.String(OutFlag.Name); path != "" {
		return os.WriteFile(path, data, 0600)
	}
	_, err := cCtx.App.Writer.Write(data)
	return err
}
