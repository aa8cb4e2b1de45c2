package auth

import (
	pam "github.com/msteinert/pam/v2"
)

// PAMPasswordPolicy validates password offers against the system PAM stack.
type PAMPasswordPolicy struct {
	// Service is the PAM service name; "sshd" when empty.
	Service string
}

// Authorize runs a PAM conversation answering every password prompt with
// the offered password.
func (p PAMPasswordPolicy) Authorize(cred PasswordCredential, d *Decision) {
	service := p.Service
	if service == "" {
		service = "sshd"
	}
	t, err := pam.StartFunc(service, cred.Username, func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOff:
			// Password prompt (hidden input).
			return cred.Password, nil
		case pam.TextInfo:
			// Informational message, no input needed.
			return "", nil
		default:
			return "", nil
		}
	})
	if err != nil {
		d.Resolve(false)
		return
	}
	defer t.End()
	if err := t.Authenticate(0); err != nil {
		d.Resolve(false)
		return
	}
	d.Resolve(true)
}
