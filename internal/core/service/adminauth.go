package service

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"

	"github.com/kitedb/kitesync/internal/core/domain"
)

// AuthMode selects the admin authorization policy.
type AuthMode string

const (
	AuthModeNone         AuthMode = "none"
	AuthModeToken        AuthMode = "token"
	AuthModeMTLS         AuthMode = "mtls"
	AuthModeTokenOrMTLS  AuthMode = "token_or_mtls"
	AuthModeTokenAndMTLS AuthMode = "token_and_mtls"
)

// DefaultClientCertHeader is where a TLS-terminating proxy forwards
// the verified client certificate subject.
const DefaultClientCertHeader = "X-Forwarded-Client-Cert"

// SubjectMatcher decides whether a client certificate subject is an
// admin. Supplying one replaces the built-in header and pattern check
// entirely.
type SubjectMatcher interface {
	Match(subject string) bool
}

// SubjectMatcherFunc adapts a function to the SubjectMatcher interface.
type SubjectMatcherFunc func(subject string) bool

// Match implements SubjectMatcher.
func (f SubjectMatcherFunc) Match(subject string) bool { return f(subject) }

// AdminGateConfig configures the admin authorization gate.
type AdminGateConfig struct {
	// Mode is one of none, token, mtls, token_or_mtls, token_and_mtls.
	Mode AuthMode

	// Token is the expected bearer token for the token modes.
	Token string

	// ClientCertHeader names the header carrying the forwarded client
	// certificate subject. Defaults to X-Forwarded-Client-Cert.
	ClientCertHeader string

	// SubjectPattern optionally restricts mtls subjects to those
	// matching this regular expression. Empty accepts any non-empty
	// subject.
	SubjectPattern string

	// Matcher replaces the header and pattern check when set.
	Matcher SubjectMatcher
}

// AdminGate evaluates the admin authorization policy per request.
// All configuration is validated by NewAdminGate; request handling
// never fails for configuration reasons.
type AdminGate struct {
	mode       AuthMode
	token      string
	certHeader string
	subjectRE  *regexp.Regexp
	matcher    SubjectMatcher
}

// NewAdminGate validates cfg and builds the gate. An unknown mode, a
// token mode without a token, or an invalid subject pattern fail here.
func NewAdminGate(cfg AdminGateConfig) (*AdminGate, error) {
	mode := AuthMode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = AuthModeNone
	}

	switch mode {
	case AuthModeNone, AuthModeToken, AuthModeMTLS, AuthModeTokenOrMTLS, AuthModeTokenAndMTLS:
	default:
		return nil, domain.ErrConfiguration.WithDetails(
			"unknown admin auth mode " + string(mode))
	}

	needsToken := mode == AuthModeToken || mode == AuthModeTokenOrMTLS || mode == AuthModeTokenAndMTLS
	if needsToken && strings.TrimSpace(cfg.Token) == "" {
		return nil, domain.ErrConfiguration.WithDetails(
			"admin auth mode " + string(mode) + " requires a token")
	}

	gate := &AdminGate{
		mode:       mode,
		token:      cfg.Token,
		certHeader: cfg.ClientCertHeader,
		matcher:    cfg.Matcher,
	}
	if gate.certHeader == "" {
		gate.certHeader = DefaultClientCertHeader
	}

	needsMTLS := mode == AuthModeMTLS || mode == AuthModeTokenOrMTLS || mode == AuthModeTokenAndMTLS
	if needsMTLS && cfg.SubjectPattern != "" && cfg.Matcher == nil {
		re, err := regexp.Compile(cfg.SubjectPattern)
		if err != nil {
			return nil, domain.ErrConfiguration.
				WithDetails("invalid admin subject pattern").
				WithCause(err)
		}
		gate.subjectRE = re
	}
	return gate, nil
}

// Mode returns the configured authorization mode.
func (g *AdminGate) Mode() AuthMode {
	return g.mode
}

// Authorize reports whether the request satisfies the policy.
func (g *AdminGate) Authorize(r *http.Request) bool {
	switch g.mode {
	case AuthModeNone:
		return true
	case AuthModeToken:
		return g.tokenOK(r)
	case AuthModeMTLS:
		return g.mtlsOK(r)
	case AuthModeTokenOrMTLS:
		return g.tokenOK(r) || g.mtlsOK(r)
	case AuthModeTokenAndMTLS:
		return g.tokenOK(r) && g.mtlsOK(r)
	}
	return false
}

// Require is Authorize with an error result for handler chains.
func (g *AdminGate) Require(r *http.Request) error {
	if g.Authorize(r) {
		return nil
	}
	return domain.ErrUnauthorized.WithDetails(
		"admin authorization failed under mode " + string(g.mode))
}

// tokenOK checks the Authorization header for the exact bearer token.
func (g *AdminGate) tokenOK(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	value = strings.TrimSpace(value)
	return subtle.ConstantTimeCompare([]byte(value), []byte(g.token)) == 1
}

// mtlsOK checks for a verified client certificate subject, either on
// the TLS connection itself or forwarded by a terminating proxy.
func (g *AdminGate) mtlsOK(r *http.Request) bool {
	subject := g.peerSubject(r)
	if subject == "" {
		return false
	}
	if g.matcher != nil {
		return g.matcher.Match(subject)
	}
	if g.subjectRE != nil {
		return g.subjectRE.MatchString(subject)
	}
	return true
}

func (g *AdminGate) peerSubject(r *http.Request) string {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0].Subject.String()
	}
	return strings.TrimSpace(r.Header.Get(g.certHeader))
}
