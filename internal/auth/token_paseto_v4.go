package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

// Manager verifies PASETO v4.public tokens and, when holding the secret key,
// issues them.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	public paseto.V4AsymmetricPublicKey
	secret *paseto.V4AsymmetricSecretKey
}

var _ Verifier = (*Manager)(nil)

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TokenTTL,
		clockSkew: cfg.ClockSkew,
	}

	if cfg.SecretKeyHex != "" {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = &secret
		m.public = secret.Public()
	}
	if cfg.PublicKeyHex != "" {
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		if m.secret != nil && public.ExportHex() != m.public.ExportHex() {
			return nil, ErrConfig
		}
		m.public = public
	}
	return m, nil
}

// PublicKeyHex exports the verification key.
func (m *Manager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token for c. Issuer, iat, nbf and exp come from the Manager.
func (m *Manager) Issue(c Claims, now time.Time) (string, time.Time, error) {
	if m.secret == nil {
		return "", time.Time{}, ErrSigningDisabled
	}
	if strings.TrimSpace(c.UserID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	if _, ok := ParseRole(string(c.Role)); !ok {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("uid", c.UserID)
	_ = tok.Set("role", string(c.Role))
	if c.Name != "" {
		_ = tok.Set("name", c.Name)
	}
	if c.Email != "" {
		_ = tok.Set("email", c.Email)
	}

	return tok.V4Sign(*m.secret, nil), exp, nil
}

// Verify parses and validates token.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	// Validate slightly in the future to tolerate nbf drift between hosts.
	validNow := now.Add(m.clockSkew)

	// Fresh parser per call; rules accumulate otherwise.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}
	rawRole, err := parsed.GetString("role")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	role, ok := ParseRole(rawRole)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()
	name, _ := parsed.GetString("name")
	email, _ := parsed.GetString("email")

	return Claims{
		UserID:    uid,
		Role:      role,
		Name:      name,
		Email:     email,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
