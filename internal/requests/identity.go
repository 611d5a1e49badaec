package requests

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	kerrors "github.com/PolarWolf314/cage/internal/errors"

	"golang.org/x/crypto/ssh"
)

type IdentityKind int

const (
	IdentityPassphrase IdentityKind = iota + 1
	IdentityKeyFile
	IdentitySSHEd25519
	IdentitySSHRSA
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityPassphrase:
		return "passphrase"
	case IdentityKeyFile:
		return "x25519-key-file"
	case IdentitySSHEd25519:
		return "ssh-ed25519-key"
	case IdentitySSHRSA:
		return "ssh-rsa-key"
	default:
		return "unknown"
	}
}

// Identity is credential material used to decrypt: a passphrase or a path
// to a private key file. Identities compare by kind and encoded value.
type Identity struct {
	kind  IdentityKind
	value string
}

// PassphraseIdentity wraps a passphrase.
func PassphraseIdentity(passphrase string) Identity {
	return Identity{kind: IdentityPassphrase, value: passphrase}
}

// KeyFileIdentity references an age X25519 identity file.
func KeyFileIdentity(path string) Identity {
	return Identity{kind: IdentityKeyFile, value: path}
}

// SSHKeyIdentity references an SSH private key. The key type is read from
// the file; passphrase-protected keys are still classified.
func SSHKeyIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", kerrors.ErrInvalidIdentity, err)
	}
	kind, err := sshKeyKind(data)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s: %v", kerrors.ErrInvalidIdentity, path, err)
	}
	return Identity{kind: kind, value: path}, nil
}

// DetectIdentity classifies a key file by its contents.
func DetectIdentity(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", kerrors.ErrInvalidIdentity, err)
	}
	if bytes.Contains(data, []byte("AGE-SECRET-KEY-1")) {
		return KeyFileIdentity(path), nil
	}
	kind, err := sshKeyKind(data)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s is neither an age identity nor an SSH key", kerrors.ErrInvalidIdentity, path)
	}
	return Identity{kind: kind, value: path}, nil
}

func sshKeyKind(data []byte) (IdentityKind, error) {
	key, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) || missing.PublicKey == nil {
			return 0, err
		}
		return kindForKeyType(missing.PublicKey.Type())
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return 0, err
	}
	return kindForKeyType(signer.PublicKey().Type())
}

func kindForKeyType(keyType string) (IdentityKind, error) {
	switch keyType {
	case ssh.KeyAlgoED25519:
		return IdentitySSHEd25519, nil
	case ssh.KeyAlgoRSA:
		return IdentitySSHRSA, nil
	default:
		return 0, fmt.Errorf("unsupported SSH key type %s", keyType)
	}
}

func (i Identity) Kind() IdentityKind { return i.kind }

func (i Identity) IsZero() bool { return i.kind == 0 }

func (i Identity) IsPassphrase() bool { return i.kind == IdentityPassphrase }

// Passphrase returns the passphrase for passphrase identities, "" otherwise.
func (i Identity) Passphrase() string {
	if i.kind != IdentityPassphrase {
		return ""
	}
	return i.value
}

// Path returns the key file path for file-based identities, "" otherwise.
func (i Identity) Path() string {
	if i.kind == IdentityPassphrase {
		return ""
	}
	return i.value
}

func (i Identity) Equal(other Identity) bool {
	return i.kind == other.kind && i.value == other.value
}

// String never reveals a passphrase.
func (i Identity) String() string {
	if i.kind == IdentityPassphrase {
		return "passphrase:****"
	}
	return i.kind.String() + ":" + i.value
}

func (i Identity) validate() error {
	switch i.kind {
	case IdentityPassphrase:
		if i.value == "" {
			return fmt.Errorf("%w: empty passphrase", kerrors.ErrInvalidIdentity)
		}
	case IdentityKeyFile, IdentitySSHEd25519, IdentitySSHRSA:
		if strings.TrimSpace(i.value) == "" {
			return fmt.Errorf("%w: empty key file path", kerrors.ErrInvalidIdentity)
		}
	default:
		return fmt.Errorf("%w: unset identity", kerrors.ErrInvalidIdentity)
	}
	return nil
}

type RecipientKind int

const (
	RecipientX25519 RecipientKind = iota + 1
	RecipientSSHEd25519
	RecipientSSHRSA
	RecipientGroupRef
)

func (k RecipientKind) String() string {
	switch k {
	case RecipientX25519:
		return "x25519"
	case RecipientSSHEd25519:
		return "ssh-ed25519"
	case RecipientSSHRSA:
		return "ssh-rsa"
	case RecipientGroupRef:
		return "group"
	default:
		return "unknown"
	}
}

// Recipient is a public key (or a named group reference) that a file is
// encrypted to. Recipients compare by their normalized encoding.
type Recipient struct {
	kind  RecipientKind
	value string
}

const (
	x25519Prefix  = "age1"
	x25519Length  = 62
	bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// ParseRecipient accepts an age X25519 recipient (age1...), an SSH
// authorized-key line (ssh-ed25519 / ssh-rsa), or a group reference (@name).
func ParseRecipient(s string) (Recipient, error) {
	s = strings.TrimSpace(s)

	switch {
	case s == "":
		return Recipient{}, fmt.Errorf("%w: empty recipient", kerrors.ErrInvalidRecipient)

	case strings.HasPrefix(s, "@"):
		name := strings.TrimPrefix(s, "@")
		if name == "" || strings.ContainsAny(name, " \t@") {
			return Recipient{}, fmt.Errorf("%w: bad group reference %q", kerrors.ErrInvalidRecipient, s)
		}
		return Recipient{kind: RecipientGroupRef, value: name}, nil

	case strings.HasPrefix(s, x25519Prefix):
		if err := checkX25519(s); err != nil {
			return Recipient{}, fmt.Errorf("%w: %v", kerrors.ErrInvalidRecipient, err)
		}
		return Recipient{kind: RecipientX25519, value: s}, nil

	case strings.HasPrefix(s, "ssh-"):
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
		if err != nil {
			return Recipient{}, fmt.Errorf("%w: %v", kerrors.ErrInvalidRecipient, err)
		}
		kind := RecipientSSHEd25519
		switch key.Type() {
		case ssh.KeyAlgoED25519:
		case ssh.KeyAlgoRSA:
			kind = RecipientSSHRSA
		default:
			return Recipient{}, fmt.Errorf("%w: unsupported SSH key type %s", kerrors.ErrInvalidRecipient, key.Type())
		}
		// Comments are dropped so equal keys compare equal.
		normalized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
		return Recipient{kind: kind, value: normalized}, nil
	}

	return Recipient{}, fmt.Errorf("%w: unrecognized recipient %q", kerrors.ErrInvalidRecipient, s)
}

// checkX25519 verifies shape and alphabet. Checksum verification is left to
// the backend, which rejects malformed keys before encrypting anything.
func checkX25519(s string) error {
	if len(s) != x25519Length {
		return fmt.Errorf("age recipient must be %d characters, got %d", x25519Length, len(s))
	}
	for _, r := range s[len(x25519Prefix):] {
		if !strings.ContainsRune(bech32Charset, r) {
			return fmt.Errorf("age recipient contains invalid character %q", r)
		}
	}
	return nil
}

// GroupReference builds a reference to a named recipient group.
func GroupReference(name string) Recipient {
	return Recipient{kind: RecipientGroupRef, value: name}
}

func (r Recipient) Kind() RecipientKind { return r.kind }

func (r Recipient) IsGroupRef() bool { return r.kind == RecipientGroupRef }

// GroupName returns the referenced group for group references, "" otherwise.
func (r Recipient) GroupName() string {
	if r.kind != RecipientGroupRef {
		return ""
	}
	return r.value
}

func (r Recipient) Equal(other Recipient) bool {
	return r.kind == other.kind && r.value == other.value
}

// String returns the encoding the backend expects on its command line.
func (r Recipient) String() string {
	if r.kind == RecipientGroupRef {
		return "@" + r.value
	}
	return r.value
}

// ParseRecipients parses every entry, failing on the first bad one.
func ParseRecipients(values []string) ([]Recipient, error) {
	recipients := make([]Recipient, 0, len(values))
	for _, v := range values {
		r, err := ParseRecipient(v)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}
