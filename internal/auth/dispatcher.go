// Package auth bridges inbound SSH credential offers to caller-supplied
// policy decisions.
//
// A Dispatcher is configured with at most one password policy and at most
// one public-key policy. It advertises exactly the methods for which a
// policy exists, forwards each offer to the matching policy at most once,
// and blocks until the policy resolves its Decision. No state is retained
// across offers.
package auth

import (
	"errors"

	"golang.org/x/crypto/ssh"
)

// Advertised authentication method names, as they appear on the wire.
const (
	MethodPassword  = "password"
	MethodPublicKey = "publickey"
)

// ErrRejected is the error surfaced to the transport when a credential
// offer resolves to a denial.
var ErrRejected = errors.New("auth: rejected")

// PasswordCredential is a username/password offer. It is created per
// attempt and discarded after the decision; the core never persists or
// logs it.
type PasswordCredential struct {
	Username string
	Password string
}

// PublicKeyCredential is an offered public key plus the username claiming it.
type PublicKeyCredential struct {
	Username string
	Key      ssh.PublicKey
}

// PasswordPolicy decides password offers. Authorize is invoked at most
// once per offer and must resolve d exactly once, synchronously or not.
type PasswordPolicy interface {
	Authorize(cred PasswordCredential, d *Decision)
}

// PublicKeyPolicy decides public-key offers under the same contract as
// PasswordPolicy.
type PublicKeyPolicy interface {
	Authorize(cred PublicKeyCredential, d *Decision)
}

// PasswordPolicyFunc adapts a function to the PasswordPolicy interface.
type PasswordPolicyFunc func(cred PasswordCredential, d *Decision)

// Authorize calls f.
func (f PasswordPolicyFunc) Authorize(cred PasswordCredential, d *Decision) { f(cred, d) }

// PublicKeyPolicyFunc adapts a function to the PublicKeyPolicy interface.
type PublicKeyPolicyFunc func(cred PublicKeyCredential, d *Decision)

// Authorize calls f.
func (f PublicKeyPolicyFunc) Authorize(cred PublicKeyCredential, d *Decision) { f(cred, d) }

// Dispatcher forwards credential offers to the configured policies.
type Dispatcher struct {
	password  PasswordPolicy
	publicKey PublicKeyPolicy
}

// NewDispatcher creates a dispatcher over the given policies. Either policy
// may be nil; with both nil no method is advertised and nobody can
// authenticate.
func NewDispatcher(password PasswordPolicy, publicKey PublicKeyPolicy) *Dispatcher {
	return &Dispatcher{password: password, publicKey: publicKey}
}

// Methods returns the authentication methods currently usable: the union of
// password (if a password policy is configured) and publickey (if a key
// policy is configured).
func (d *Dispatcher) Methods() []string {
	var methods []string
	if d.password != nil {
		methods = append(methods, MethodPassword)
	}
	if d.publicKey != nil {
		methods = append(methods, MethodPublicKey)
	}
	return methods
}

// OfferPassword resolves a password offer. An offer with no configured
// password policy is rejected immediately without invoking anything.
func (d *Dispatcher) OfferPassword(cred PasswordCredential) bool {
	if d.password == nil {
		return false
	}
	dec := NewDecision()
	d.password.Authorize(cred, dec)
	return dec.wait()
}

// OfferPublicKey resolves a public-key offer. An offer with no configured
// key policy is rejected immediately without invoking anything.
func (d *Dispatcher) OfferPublicKey(cred PublicKeyCredential) bool {
	if d.publicKey == nil {
		return false
	}
	dec := NewDecision()
	d.publicKey.Authorize(cred, dec)
	return dec.wait()
}

// Apply installs the dispatcher's callbacks on an SSH server configuration.
// A callback is installed only for methods with a configured policy, so the
// transport advertises exactly Methods().
func (d *Dispatcher) Apply(cfg *ssh.ServerConfig) {
	if d.password != nil {
		cfg.PasswordCallback = d.passwordCallback
	}
	if d.publicKey != nil {
		cfg.PublicKeyCallback = d.publicKeyCallback
	}
}

// passwordCallback is the ssh.PasswordCallback bound to this dispatcher.
func (d *Dispatcher) passwordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if d.OfferPassword(PasswordCredential{Username: conn.User(), Password: string(password)}) {
		return nil, nil
	}
	return nil, ErrRejected
}

// publicKeyCallback is the ssh.PublicKeyCallback bound to this dispatcher.
func (d *Dispatcher) publicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if d.OfferPublicKey(PublicKeyCredential{Username: conn.User(), Key: key}) {
		return nil, nil
	}
	return nil, ErrRejected
}
