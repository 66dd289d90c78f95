package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// KeyStore resolves the well-known key files inside a key_store_dir,
// mirroring pc::key_store's file layout: a single publishing key pair used
// to sign every upd_price transaction, plus the mapping and program public
// keys the daemon needs to bootstrap and to address instructions at.
type KeyStore struct {
	dir string
}

// NewKeyStore returns a KeyStore rooted at dir. Call Init before use.
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

// Init validates that dir exists, is a directory the current user owns,
// and is not accessible to group or other — the daemon refuses to start
// otherwise, since a world-readable directory would leak the publishing
// private key.
func (s *KeyStore) Init() error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("key store: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("key store: %s is not a directory", s.dir)
	}
	if runtime.GOOS != "windows" {
		if err := checkOwnerAndMode(s.dir, fi); err != nil {
			return err
		}
	}
	return nil
}

func (s *KeyStore) publishKeyPairFile() string { return filepath.Join(s.dir, "publish_key_pair.json") }
func (s *KeyStore) mappingPubKeyFile() string  { return filepath.Join(s.dir, "mapping_key.json") }
func (s *KeyStore) programPubKeyFile() string  { return filepath.Join(s.dir, "program_key.json") }

// keyFile is the on-disk JSON shape written for both key pairs and bare
// public keys; Secret is empty when the file only holds a public key.
type keyFile struct {
	Public PublicKey `json:"public_key"`
	Secret string    `json:"secret_key,omitempty"`
}

// PublishKeyPair loads the daemon's primary publishing and funding key.
func (s *KeyStore) PublishKeyPair() (KeyPair, error) {
	var kf keyFile
	if err := readKeyFile(s.publishKeyPairFile(), &kf); err != nil {
		return KeyPair{}, fmt.Errorf("key store: publish key pair: %w", err)
	}
	if kf.Secret == "" {
		return KeyPair{}, fmt.Errorf("key store: %s has no secret key", s.publishKeyPairFile())
	}
	kp, err := FromBase58(kf.Secret)
	if err != nil {
		return KeyPair{}, fmt.Errorf("key store: publish key pair: %w", err)
	}
	return kp, nil
}

// MappingPubKey loads the public key of the top-level mapping account to
// bootstrap the account mirror from.
func (s *KeyStore) MappingPubKey() (PublicKey, error) {
	var kf keyFile
	if err := readKeyFile(s.mappingPubKeyFile(), &kf); err != nil {
		return PublicKey{}, fmt.Errorf("key store: mapping public key: %w", err)
	}
	return kf.Public, nil
}

// ProgramPubKey loads the oracle program id instructions are addressed to.
func (s *KeyStore) ProgramPubKey() (PublicKey, error) {
	var kf keyFile
	if err := readKeyFile(s.programPubKeyFile(), &kf); err != nil {
		return PublicKey{}, fmt.Errorf("key store: program public key: %w", err)
	}
	return kf.Public, nil
}

func readKeyFile(path string, dst *keyFile) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
