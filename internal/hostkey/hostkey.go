// Package hostkey manages the server's long-lived host identity.
//
// A host key is persisted as a single text line in the form
//
//	<algorithm-tag> <base64 private key material> [comment]
//
// Only ssh-ed25519 is registered by default; further algorithms are added
// with Register rather than by changing the codec. The package also
// implements authorized-keys matching for public-key authentication.
package hostkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// AlgoED25519 is the algorithm tag of the single built-in key type.
const AlgoED25519 = ssh.KeyAlgoED25519

// ErrUnknownAlgorithm is returned by Parse and Generate when the algorithm
// tag has not been registered.
var ErrUnknownAlgorithm = errors.New("hostkey: unknown algorithm")

// algorithm describes how one key type generates and reconstitutes raw
// private key material.
type algorithm struct {
	generate func() ([]byte, error)
	signer   func(material []byte) (ssh.Signer, error)
}

var registry = map[string]algorithm{}

// Register adds a key algorithm to the codec under the given tag.
// Registering an existing tag replaces the previous entry.
func Register(tag string, generate func() ([]byte, error), signer func([]byte) (ssh.Signer, error)) {
	registry[tag] = algorithm{generate: generate, signer: signer}
}

func init() {
	Register(AlgoED25519,
		func() ([]byte, error) {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, err
			}
			return priv, nil
		},
		func(material []byte) (ssh.Signer, error) {
			if len(material) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(material))
			}
			return ssh.NewSignerFromKey(ed25519.PrivateKey(material))
		},
	)
}

// KeyPair is a host key: an algorithm tag, the raw private key material and
// the signer derived from it. A KeyPair is immutable once constructed; two
// pairs parsed from the same serialized line derive the same public key.
type KeyPair struct {
	algo     string
	material []byte
	signer   ssh.Signer
	comment  string
}

// Algorithm returns the key's algorithm tag.
func (k *KeyPair) Algorithm() string { return k.algo }

// Comment returns the optional trailing comment of the serialized form.
func (k *KeyPair) Comment() string { return k.comment }

// Signer exposes the key for use as a transport host identity.
func (k *KeyPair) Signer() ssh.Signer { return k.signer }

// PublicKey returns the public key derived from the private material.
func (k *KeyPair) PublicKey() ssh.PublicKey { return k.signer.PublicKey() }

// Serialize renders the pair in its textual persistence form:
// "<algorithm-tag> <base64 private key> [comment]".
func (k *KeyPair) Serialize() string {
	line := k.algo + " " + base64.StdEncoding.EncodeToString(k.material)
	if k.comment != "" {
		line += " " + k.comment
	}
	return line
}

// Generate creates a fresh key pair for the given algorithm tag.
func Generate(tag string) (*KeyPair, error) {
	algo, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, tag)
	}
	material, err := algo.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", tag, err)
	}
	signer, err := algo.signer(material)
	if err != nil {
		return nil, err
	}
	return &KeyPair{algo: tag, material: material, signer: signer}, nil
}

// Parse decodes the textual persistence form produced by Serialize.
// It fails when the line has fewer than two tokens, the second token is not
// valid base64, or the algorithm tag is not registered.
func Parse(s string) (*KeyPair, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, fmt.Errorf("hostkey: malformed key line: want at least 2 fields, got %d", len(fields))
	}
	algo, ok := registry[fields[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, fields[0])
	}
	material, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return nil, fmt.Errorf("hostkey: invalid base64 key material: %w", err)
	}
	signer, err := algo.signer(material)
	if err != nil {
		return nil, fmt.Errorf("hostkey: %w", err)
	}
	return &KeyPair{
		algo:     fields[0],
		material: material,
		signer:   signer,
		comment:  strings.Join(fields[2:], " "),
	}, nil
}

// LoadOrCreate reads the host key stored at path, generating and persisting
// a new ed25519 key when the file does not exist. The key file is written
// with mode 0600.
func LoadOrCreate(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		pair, perr := Parse(string(data))
		if perr != nil {
			return nil, fmt.Errorf("hostkey: %s: %w", path, perr)
		}
		return pair, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	pair, err := Generate(AlgoED25519)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(pair.Serialize()+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("hostkey: failed to save generated key: %w", err)
	}
	return pair, nil
}

// Matches reports whether line, a single OpenSSH authorized-keys entry,
// carries the same key material as pub. A line that does not parse as an
// authorized-keys entry never matches.
func Matches(pub ssh.PublicKey, line string) bool {
	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return false
	}
	return bytes.Equal(parsed.Marshal(), pub.Marshal())
}

// IsPresent reports whether pub appears in contents, a newline-separated
// authorized-keys listing. Blank lines and unparseable lines are skipped.
func IsPresent(pub ssh.PublicKey, contents string) bool {
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if Matches(pub, line) {
			return true
		}
	}
	return false
}
