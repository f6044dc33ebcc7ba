package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/phe/phe"
	"github.com/TheusHen/phe/phe/cart"
	"github.com/TheusHen/phe/phe/cartstore"
	"github.com/TheusHen/phe/phe/config"
	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/keystore"
	"github.com/TheusHen/phe/phe/log"
	"github.com/TheusHen/phe/phe/metrics"
	"github.com/TheusHen/phe/phe/protocol"
)

var (
	version   = "master"
	gitCommit = "none"
	buildDate = "unknown"
)

// output is where command results go; tests swap it.
var output io.Writer = os.Stdout

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "TOML configuration file. Defaults apply when unset.",
	EnvVars: []string{"PHE_CONFIG"},
}

var folderFlag = &cli.StringFlag{
	Name:  "folder",
	Usage: "Folder holding the key pair (phe_id.public, phe_id.private).",
}

var passphraseFlag = &cli.StringFlag{
	Name:    "passphrase",
	Usage:   "Passphrase sealing the private key.",
	EnvVars: []string{"PHE_PASSPHRASE"},
}

var logLevelFlag = &cli.StringFlag{
	Name:  "log-level",
	Usage: "Log level: debug, info, warn or error. Overrides the config file.",
}

var logJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Usage: "Log in JSON.",
}

var presetFlag = &cli.StringFlag{
	Name:  "preset",
	Usage: "Group preset for keygen, overriding the config: " + strings.Join(config.Presets(), ", "),
}

var connectFlag = &cli.StringFlag{
	Name:  "connect",
	Usage: "Relay address to connect to.",
	Value: "[::1]:4433",
}

var itemFlag = &cli.StringSliceFlag{
	Name:  "item",
	Usage: "Cart line as price:quantity; repeat for several lines.",
}

var dirFlag = &cli.StringFlag{
	Name:     "dir",
	Usage:    "Directory holding backup shard files.",
	Required: true,
}

var dataShardsFlag = &cli.IntFlag{
	Name:  "data",
	Usage: "Number of data shards; this many are needed to restore.",
	Value: 3,
}

var parityShardsFlag = &cli.IntFlag{
	Name:  "parity",
	Usage: "Number of parity shards; this many may be lost.",
	Value: 2,
}

var forceFlag = &cli.BoolFlag{
	Name:  "force",
	Usage: "Overwrite an existing key pair.",
}

var appCommands = []*cli.Command{
	{
		Name:   "keygen",
		Usage:  "Generate an ElGamal key pair and store it sealed in --folder.",
		Flags:  toArray(presetFlag, passphraseFlag, forceFlag),
		Action: keygenCmd,
	},
	{
		Name:      "encrypt",
		Usage:     "Encrypt a message under the stored public key.",
		ArgsUsage: "<m> decimal integer in [1, p-2]",
		Action:    encryptCmd,
	},
	{
		Name:      "decrypt",
		Usage:     "Decrypt a ciphertext with the stored private key.",
		ArgsUsage: "<ciphertext> JSON object {\"c1\":..., \"c2\":...}",
		Flags:     toArray(passphraseFlag),
		Action:    decryptCmd,
	},
	{
		Name:      "combine",
		Usage:     "Multiply ciphertexts homomorphically under the stored public key.",
		ArgsUsage: "<ciphertext> <ciphertext>...",
		Action:    combineCmd,
	},
	{
		Name:      "power",
		Usage:     "Ask a relay for E(m^k) given E(m) under the stored public key.",
		ArgsUsage: "<ciphertext> <k> with k a positive decimal integer",
		Flags:     toArray(connectFlag),
		Action:    powerCmd,
	},
	{
		Name:   "relay",
		Usage:  "Run a cart relay over QUIC.",
		Action: relayCmd,
	},
	{
		Name:   "cart",
		Usage:  "Submit an encrypted cart to a relay and print its total and quantity product.",
		Flags:  toArray(connectFlag, itemFlag, passphraseFlag),
		Action: cartCmd,
	},
	{
		Name:   "backup",
		Usage:  "Erasure-code the sealed private key into shard files.",
		Flags:  toArray(dirFlag, dataShardsFlag, parityShardsFlag),
		Action: backupCmd,
	},
	{
		Name:   "restore",
		Usage:  "Rebuild the sealed private key from shard files.",
		Flags:  toArray(dirFlag),
		Action: restoreCmd,
	},
	{
		Name:   "show-config",
		Usage:  "Print the effective configuration.",
		Action: showConfigCmd,
	},
}

// CLI returns the phe command line application.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "phe"
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(output, "phe %v (date %v, commit %v)\n", version, buildDate, gitCommit)
	}
	app.ExitErrHandler = func(context *cli.Context, err error) {
		// override to prevent default behavior of calling OS.exit(1),
		// when tests expect to be able to run multiple commands.
	}
	app.Version = version
	app.Usage = "multiplicative-homomorphic ElGamal and encrypted cart relay"
	app.Commands = appCommands
	app.Flags = toArray(configFlag, folderFlag, logLevelFlag, logJSONFlag)
	return app
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(configFlag.Name)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func logger(c *cli.Context, cfg *config.Config) (log.Logger, error) {
	levelName := cfg.Log.Level
	if c.IsSet(logLevelFlag.Name) {
		levelName = c.String(logLevelFlag.Name)
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	isJSON := cfg.Log.JSON || c.Bool(logJSONFlag.Name)
	return log.New(nil, level, isJSON).Named("phe"), nil
}

type env struct {
	cfg   *config.Config
	log   log.Logger
	store *keystore.FileStore
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	l, err := logger(c, cfg)
	if err != nil {
		return nil, err
	}
	fs, err := keystore.NewFileStore(l, c.String(folderFlag.Name))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: l, store: fs}, nil
}

func passphrase(c *cli.Context) ([]byte, error) {
	p := c.String(passphraseFlag.Name)
	if p == "" {
		return nil, keystore.ErrEmptyPassword
	}
	return []byte(p), nil
}

func keygenCmd(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	pass, err := passphrase(c)
	if err != nil {
		return err
	}
	if _, err := e.store.LoadPublic(); err == nil && !c.Bool(forceFlag.Name) {
		fmt.Fprintf(output, "Keypair already present in `%s`.\nRemove it or pass --force to generate a new one\n", e.store.Folder)
		return nil
	}

	groupCfg := e.cfg.Group
	if c.IsSet(presetFlag.Name) {
		groupCfg = config.GroupConfig{Preset: c.String(presetFlag.Name)}
	}
	params, err := groupCfg.Parameters()
	if err != nil {
		return err
	}
	_, sk, err := elgamal.GenerateKey(nil, params)
	if err != nil {
		return err
	}
	if err := e.store.SaveKeyPair(sk, pass); err != nil {
		return fmt.Errorf("could not save key: %w", err)
	}
	absPath, err := filepath.Abs(e.store.Folder)
	if err != nil {
		return fmt.Errorf("err getting full path: %w", err)
	}
	fmt.Fprintln(output, "Generated keys at", absPath)
	var buff bytes.Buffer
	if err := toml.NewEncoder(&buff).Encode(keystore.PublicToTOML(sk.Public())); err != nil {
		return err
	}
	fmt.Fprintln(output, buff.String())
	return nil
}

func parseMessage(s string) (*big.Int, error) {
	m, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return m, nil
}

func parseCiphertext(s string) (*elgamal.Ciphertext, error) {
	var h protocol.HexCiphertext
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("invalid ciphertext %q: %w", s, err)
	}
	return h.Ciphertext()
}

func printCiphertext(w io.Writer, ct *elgamal.Ciphertext) error {
	b, err := json.Marshal(protocol.FromCiphertext(ct))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(b))
	return nil
}

func encryptCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("encrypt takes exactly one message")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	pub, err := e.store.LoadPublic()
	if err != nil {
		return err
	}
	m, err := parseMessage(c.Args().First())
	if err != nil {
		return err
	}
	ct, err := pub.Encrypt(nil, m)
	if err != nil {
		return err
	}
	return printCiphertext(output, ct)
}

func decryptCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("decrypt takes exactly one ciphertext")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	pass, err := passphrase(c)
	if err != nil {
		return err
	}
	sk, err := e.store.LoadPrivate(pass)
	if err != nil {
		return err
	}
	ct, err := parseCiphertext(c.Args().First())
	if err != nil {
		return err
	}
	m, err := sk.DecryptChecked(ct)
	if err != nil {
		return err
	}
	fmt.Fprintln(output, m.String())
	return nil
}

func combineCmd(c *cli.Context) error {
	if c.NArg() < 2 {
		return errors.New("combine takes at least two ciphertexts")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	pub, err := e.store.LoadPublic()
	if err != nil {
		return err
	}
	cts := make([]*elgamal.Ciphertext, c.NArg())
	for i, s := range c.Args().Slice() {
		if cts[i], err = parseCiphertext(s); err != nil {
			return err
		}
	}
	ct, err := pub.CombineAll(cts...)
	if err != nil {
		return err
	}
	return printCiphertext(output, ct)
}

func powerCmd(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("power takes a ciphertext and an exponent")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	pub, err := e.store.LoadPublic()
	if err != nil {
		return err
	}
	ct, err := parseCiphertext(c.Args().Get(0))
	if err != nil {
		return err
	}
	k, err := parseMessage(c.Args().Get(1))
	if err != nil {
		return err
	}

	ctx := c.Context
	sess, err := phe.NewPeer(phe.AcceptGroup(pub.GroupParameters)).Dial(ctx, c.String(connectFlag.Name), pub)
	if err != nil {
		return err
	}
	remote := cart.NewRemoteClient(sess)
	defer remote.Close()
	return runPower(ctx, output, remote, ct, k)
}

func runPower(ctx context.Context, w io.Writer, remote *cart.RemoteClient, ct *elgamal.Ciphertext, k *big.Int) error {
	out, err := remote.RequestPower(ctx, ct, k)
	if err != nil {
		return err
	}
	return printCiphertext(w, out)
}

func relayCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l, err := logger(c, cfg)
	if err != nil {
		return err
	}
	params, err := cfg.Group.Parameters()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cartstore.New(ctx, l, cfg.Relay.Store, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	pool := cart.NewPool(cfg.Relay.Workers, cfg.Relay.Queue)
	defer pool.Stop()

	peer := phe.NewPeer(phe.AcceptGroup(params))
	if err := peer.Listen(cfg.Relay.Listen); err != nil {
		return err
	}
	defer peer.Close()
	l.Infow("relay listening", "addr", peer.ListenAddr(), "group_bits", params.BitLen(), "workers", cfg.Relay.Workers)

	relay := cart.NewRelay(l, store, pool)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx, peer)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, l, cfg.Metrics.Listen)
		})
	}
	return g.Wait()
}

func parseItems(specs []string) ([]cart.Item, error) {
	if len(specs) == 0 {
		return nil, errors.New("cart needs at least one --item price:quantity")
	}
	items := make([]cart.Item, len(specs))
	for i, s := range specs {
		price, qty, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("invalid item %q, want price:quantity", s)
		}
		p, err := strconv.ParseUint(price, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price in %q: %w", s, err)
		}
		q, err := parseMessage(qty)
		if err != nil {
			return nil, err
		}
		items[i] = cart.Item{Price: p, Quantity: q}
	}
	return items, nil
}

func cartCmd(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	items, err := parseItems(c.StringSlice(itemFlag.Name))
	if err != nil {
		return err
	}
	pass, err := passphrase(c)
	if err != nil {
		return err
	}
	sk, err := e.store.LoadPrivate(pass)
	if err != nil {
		return err
	}
	client := cart.NewClient(e.log)
	client.SetKeys(sk)

	ctx := c.Context
	sess, err := phe.NewPeer(phe.AcceptGroup(sk.GroupParameters)).Dial(ctx, c.String(connectFlag.Name), sk.Public())
	if err != nil {
		return err
	}
	remote := cart.NewRemoteClient(sess)
	defer remote.Close()

	return runCart(ctx, output, client, remote, items)
}

func runCart(ctx context.Context, w io.Writer, client *cart.Client, remote *cart.RemoteClient, items []cart.Item) error {
	enc, err := client.EncryptCart(items)
	if err != nil {
		return err
	}
	fwd, err := remote.SubmitCart(ctx, enc)
	if err != nil {
		return err
	}
	total, err := client.DecryptAndTotal(fwd)
	if err != nil {
		return err
	}
	ct, n, err := remote.RequestProduct(ctx, fwd.ID)
	if err != nil {
		return err
	}
	product, err := client.DecryptProduct(ct)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "cart %s\n", fwd.ID)
	fmt.Fprintf(w, "total: %s\n", total)
	fmt.Fprintf(w, "quantity product over %d items: %s\n", n, product)
	return nil
}

func backupCmd(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	paths, err := e.store.Backup(c.String(dirFlag.Name), c.Int(dataShardsFlag.Name), c.Int(parityShardsFlag.Name))
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(output, p)
	}
	return nil
}

func restoreCmd(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if err := e.store.Restore(c.String(dirFlag.Name)); err != nil {
		return err
	}
	fmt.Fprintln(output, "Restored", e.store.PrivateFile)
	return nil
}

func showConfigCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return cfg.Encode(output)
}
