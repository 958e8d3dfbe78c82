package relay

import (
	"crypto/subtle"

	"PRelay/logger"
	"PRelay/tools/errs"
)

// Gate admits a connection iff its handshake credential equals the shared secret.
// It is an admission check, not an identity system: there is no per-client identity.
type Gate struct {
	secret []byte
}

func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Admit returns nil for the configured secret and AuthRejected(invalid_credential)
// for anything else, including an absent credential. An empty secret admits nobody.
func (g *Gate) Admit(credential string) error {
	if len(g.secret) == 0 || subtle.ConstantTimeCompare([]byte(credential), g.secret) != 1 {
		return errs.ErrAuthRejected.WrapMsg(errs.ReasonInvalidCredential)
	}
	return nil
}

// admitLogged is Admit plus the admission/rejection log line.
func (g *Gate) admitLogged(credential, remote, transport string) error {
	if err := g.Admit(credential); err != nil {
		logger.Warnf("[Auth] rejected remote=%s transport=%s reason=%s", remote, transport, errs.ReasonInvalidCredential)
		return err
	}
	logger.Infof("[Auth] admitted remote=%s transport=%s", remote, transport)
	return nil
}
