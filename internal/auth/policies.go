package auth

import (
	"os"

	"sshexecd/internal/hostkey"
)

// StaticPasswordPolicy grants exactly one username/password pair. It is
// meant for tests and single-operator deployments.
type StaticPasswordPolicy struct {
	Username string
	Password string
}

// Authorize grants iff the offer matches the configured pair.
func (p StaticPasswordPolicy) Authorize(cred PasswordCredential, d *Decision) {
	d.Resolve(cred.Username == p.Username && cred.Password == p.Password)
}

// AuthorizedKeysPolicy grants any public key listed in an OpenSSH
// authorized-keys file. The file is re-read on every offer so edits take
// effect without a restart.
type AuthorizedKeysPolicy struct {
	Path string
}

// Authorize grants iff the offered key appears in the file. A missing or
// unreadable file denies every offer.
func (p AuthorizedKeysPolicy) Authorize(cred PublicKeyCredential, d *Decision) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		d.Resolve(false)
		return
	}
	d.Resolve(hostkey.IsPresent(cred.Key, string(data)))
}
