package main

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/phe/phe"
	"github.com/TheusHen/phe/phe/cart"
	"github.com/TheusHen/phe/phe/cartstore"
	"github.com/TheusHen/phe/phe/config"
	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/keystore"
	"github.com/TheusHen/phe/phe/log/testlogger"
)

const testPassphrase = "correct horse battery staple"

func run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	old := output
	output = &buf
	defer func() { output = old }()

	err := CLI().Run(append([]string{"phe", "--log-level", "error"}, args...))
	require.NoError(t, err, "phe %s", strings.Join(args, " "))
	return buf.String()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

func TestKeygenEncryptCombineDecrypt(t *testing.T) {
	folder := t.TempDir()
	out := run(t, "--folder", folder, "keygen", "--preset", config.PresetToy, "--passphrase", testPassphrase)
	require.Contains(t, out, "Generated keys at")
	require.Contains(t, out, "fingerprint")

	// keygen refuses to overwrite without --force.
	out = run(t, "--folder", folder, "keygen", "--preset", config.PresetToy, "--passphrase", testPassphrase)
	require.Contains(t, out, "already present")

	c10 := lastLine(run(t, "--folder", folder, "encrypt", "10"))
	c20 := lastLine(run(t, "--folder", folder, "encrypt", "20"))
	prod := lastLine(run(t, "--folder", folder, "combine", c10, c20))

	out = run(t, "--folder", folder, "decrypt", "--passphrase", testPassphrase, prod)
	require.Equal(t, "200", lastLine(out))
}

func TestCommandErrors(t *testing.T) {
	folder := t.TempDir()
	base := []string{"phe", "--log-level", "error", "--folder", folder}

	err := CLI().Run(append(base, "keygen"))
	require.ErrorIs(t, err, keystore.ErrEmptyPassword)

	err = CLI().Run(append(base, "encrypt", "5"))
	require.ErrorIs(t, err, keystore.ErrAbsent)

	run(t, "--folder", folder, "keygen", "--preset", config.PresetToy, "--passphrase", testPassphrase)

	err = CLI().Run(append(base, "encrypt", "0"))
	require.ErrorIs(t, err, elgamal.ErrOutOfRangeMessage)

	err = CLI().Run(append(base, "combine", `{"c1":"1","c2":"2"}`))
	require.Error(t, err)

	c := lastLine(run(t, "--folder", folder, "encrypt", "7"))
	err = CLI().Run(append(base, "decrypt", "--passphrase", "wrong", c))
	require.ErrorIs(t, err, keystore.ErrSealOpen)
}

func TestBackupRestore(t *testing.T) {
	folder := t.TempDir()
	shards := filepath.Join(t.TempDir(), "shards")
	run(t, "--folder", folder, "keygen", "--preset", config.PresetToy, "--passphrase", testPassphrase)
	c := lastLine(run(t, "--folder", folder, "encrypt", "42"))

	out := run(t, "--folder", folder, "backup", "--dir", shards, "--data", "2", "--parity", "1")
	paths := strings.Fields(out)
	require.Len(t, paths, 3)

	require.NoError(t, os.Remove(filepath.Join(folder, "phe_id.private")))
	require.NoError(t, os.Remove(paths[1]))

	run(t, "--folder", folder, "restore", "--dir", shards)
	out = run(t, "--folder", folder, "decrypt", "--passphrase", testPassphrase, c)
	require.Equal(t, "42", lastLine(out))
}

func TestShowConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phe.toml")
	cfg := config.Default()
	cfg.Group.Preset = config.PresetToy
	cfg.Relay.Workers = 2
	require.NoError(t, cfg.Save(path))

	out := run(t, "--config", path, "show-config")
	require.Contains(t, out, config.PresetToy)
	require.Contains(t, out, "workers = 2")
}

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"2000:1", "120:5", "1999:3"})
	require.NoError(t, err)
	require.Equal(t, int64(8597), cart.PlainTotal(items).Int64())

	for _, bad := range []string{"12", "x:1", "1:y", "-1:2"} {
		_, err := parseItems([]string{bad})
		require.Error(t, err, bad)
	}
	_, err = parseItems(nil)
	require.Error(t, err)
}

func TestRunCartAgainstRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l := testlogger.New(t)

	store, err := cartstore.New(ctx, l, t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()
	pool := cart.NewPool(2, 8)
	defer pool.Stop()

	server := phe.NewPeer(phe.AcceptGroup(elgamal.ToyGroup()))
	require.NoError(t, server.Listen("[::1]:0"))
	defer server.Close()
	relay := cart.NewRelay(l, store, pool)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, server) }()

	client := cart.NewClient(l)
	require.NoError(t, client.GenerateKeyPair(elgamal.ToyGroup()))
	pub, err := client.PublicKey()
	require.NoError(t, err)
	sess, err := phe.NewPeer(phe.AcceptGroup(elgamal.ToyGroup())).Dial(ctx, server.ListenAddr(), pub)
	require.NoError(t, err)
	remote := cart.NewRemoteClient(sess)

	items, err := parseItems([]string{"2000:1", "120:5", "1999:3"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runCart(ctx, &buf, client, remote, items))
	require.Contains(t, buf.String(), "total: 8597")
	require.Contains(t, buf.String(), "quantity product over 3 items: 15")

	seven, err := pub.Encrypt(nil, big.NewInt(7))
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, runPower(ctx, &buf, remote, seven, big.NewInt(3)))
	powered, err := parseCiphertext(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	cubed, err := client.DecryptProduct(powered)
	require.NoError(t, err)
	require.Equal(t, int64(343), cubed.Int64())

	require.NoError(t, remote.Close())
	cancel()
	require.NoError(t, <-done)
}
