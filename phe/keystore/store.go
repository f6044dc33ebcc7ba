// Package keystore persists ElGamal key pairs. Public material is written as
// TOML; the private exponent only ever reaches disk sealed under a passphrase.
package keystore

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/erasure"
	"github.com/TheusHen/phe/phe/log"
)

var (
	ErrAbsent              = errors.New("keystore: key not found")
	ErrFingerprintMismatch = errors.New("keystore: public key does not match its fingerprint")
)

const (
	DefaultFolder    = ".phe"
	defaultKeyName   = "phe_id"
	privateExtension = ".private"
	publicExtension  = ".public"
	shardExtension   = ".shard"

	secureFilePerm = 0o600
	folderPerm     = 0o700
)

// PublicTOML is the on-disk form of a public key.
type PublicTOML struct {
	P           string `toml:"p"`
	G           string `toml:"g"`
	H           string `toml:"h"`
	Fingerprint string `toml:"fingerprint"`
}

// PublicToTOML converts pub to its TOML form.
func PublicToTOML(pub *elgamal.PublicKey) *PublicTOML {
	return &PublicTOML{
		P:           pub.P.Text(16),
		G:           pub.G.Text(16),
		H:           pub.H.Text(16),
		Fingerprint: pub.Fingerprint().String(),
	}
}

// PublicFromTOML parses t and checks the recorded fingerprint.
func PublicFromTOML(t *PublicTOML) (*elgamal.PublicKey, error) {
	vals := make([]*big.Int, 3)
	for i, s := range []string{t.P, t.G, t.H} {
		v, ok := new(big.Int).SetString(s, 16)
		if !ok {
			return nil, fmt.Errorf("keystore: invalid hex integer %q", s)
		}
		vals[i] = v
	}
	pub := &elgamal.PublicKey{GroupParameters: elgamal.GroupParameters{P: vals[0], G: vals[1]}, H: vals[2]}
	if t.Fingerprint != "" && t.Fingerprint != pub.Fingerprint().String() {
		return nil, ErrFingerprintMismatch
	}
	return pub, nil
}

// FileStore keeps one key pair in a folder: <name>.public (TOML) and
// <name>.private (sealed, 0600).
type FileStore struct {
	Folder      string
	PublicFile  string
	PrivateFile string
	SealOptions *SealOptions

	log log.Logger
}

// NewFileStore returns a store rooted at folder, creating it when missing.
func NewFileStore(l log.Logger, folder string) (*FileStore, error) {
	if folder == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		folder = filepath.Join(home, DefaultFolder)
	}
	if err := os.MkdirAll(folder, folderPerm); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", folder, err)
	}
	return &FileStore{
		Folder:      folder,
		PublicFile:  filepath.Join(folder, defaultKeyName+publicExtension),
		PrivateFile: filepath.Join(folder, defaultKeyName+privateExtension),
		log:         l.Named("keystore"),
	}, nil
}

// SaveKeyPair seals the private key first and then writes the public half.
func (f *FileStore) SaveKeyPair(sk *elgamal.PrivateKey, passphrase []byte) error {
	sealed, err := SealPrivateKey(sk, passphrase, f.SealOptions)
	if err != nil {
		return err
	}
	if err := writeSecure(f.PrivateFile, sealed); err != nil {
		return err
	}
	if err := f.SavePublic(sk.Public()); err != nil {
		return err
	}
	f.log.Infow("saved key pair", "fingerprint", sk.Fingerprint().Short(), "folder", f.Folder)
	return nil
}

func (f *FileStore) SavePublic(pub *elgamal.PublicKey) error {
	fd, err := os.Create(f.PublicFile)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(fd).Encode(PublicToTOML(pub)); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

func (f *FileStore) LoadPublic() (*elgamal.PublicKey, error) {
	var t PublicTOML
	if _, err := toml.DecodeFile(f.PublicFile, &t); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAbsent
		}
		return nil, err
	}
	return PublicFromTOML(&t)
}

// LoadPrivate opens the sealed private key; it must match the stored public key.
func (f *FileStore) LoadPrivate(passphrase []byte) (*elgamal.PrivateKey, error) {
	pub, err := f.LoadPublic()
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(f.PrivateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAbsent
		}
		return nil, err
	}
	sk, err := OpenPrivateKey(sealed, passphrase, pub.Fingerprint())
	if err != nil {
		f.log.Warnw("opening sealed key failed", "fingerprint", pub.Fingerprint().Short(), "err", err)
		return nil, err
	}
	return sk, nil
}

// Backup erasure-codes the sealed private key file into dataShards+parityShards
// files in dir and returns their paths. Any dataShards of them restore the file.
func (f *FileStore) Backup(dir string, dataShards, parityShards int) ([]string, error) {
	sealed, err := os.ReadFile(f.PrivateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAbsent
		}
		return nil, err
	}
	codec, err := erasure.NewCodec(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	shards, err := codec.EncodeBlob(sealed)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, folderPerm); err != nil {
		return nil, err
	}

	paths := make([]string, len(shards))
	for i, s := range shards {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%s%s%s-%02d", defaultKeyName, privateExtension, shardExtension, i))
		if err := writeSecure(paths[i], s); err != nil {
			return nil, err
		}
	}
	f.log.Infow("backed up sealed key", "shards", len(shards), "tolerates_loss", parityShards, "dir", dir)
	return paths, nil
}

// Restore rebuilds the sealed private key file from the shard files found in
// dir. The public file must already be present for LoadPrivate to succeed.
func (f *FileStore) Restore(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, defaultKeyName+privateExtension+shardExtension+"-*"))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	var shards [][]byte
	for _, path := range matches {
		b, err := os.ReadFile(path)
		if err != nil {
			f.log.Warnw("skipping unreadable shard", "path", path, "err", err)
			continue
		}
		shards = append(shards, b)
	}
	sealed, err := erasure.DecodeBlob(shards)
	if err != nil {
		return fmt.Errorf("keystore: restore from %s: %w", dir, err)
	}
	if err := writeSecure(f.PrivateFile, sealed); err != nil {
		return err
	}
	f.log.Infow("restored sealed key", "shards_found", len(shards), "file", f.PrivateFile)
	return nil
}

func writeSecure(path string, data []byte) error {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, secureFilePerm)
	if err != nil {
		return fmt.Errorf("keystore: open %s: %w", path, err)
	}
	if _, err := fd.Write(data); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

