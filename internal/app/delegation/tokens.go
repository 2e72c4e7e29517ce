// Package delegation issues and verifies the signed tokens used by
// execution servers, download links and users.
package delegation

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

// DefaultServerTokenTTL is the lifetime of execution server identity tokens.
const DefaultServerTokenTTL = 356 * 24 * time.Hour

const signingAlgorithm = "HS256"

// Kind tells the token variants apart.
type Kind int

const (
	KindUnknown Kind = iota
	KindServer
	KindDownload
	KindUser
)

// Claims is the claim set carried by every token. Which fields are set
// depends on the variant.
type Claims struct {
	// ExecutionServer identifies a remote or local execution server.
	ExecutionServer string `json:"executionserver,omitempty"`

	// JobID and Name authorize the download of one artifact.
	JobID string `json:"_id,omitempty"`
	Name  string `json:"name,omitempty"`

	// Email and Scope identify a user.
	Email string   `json:"email,omitempty"`
	Scope []string `json:"scope,omitempty"`

	jwt.RegisteredClaims
}

// Kind returns the variant of the claim set.
func (c Claims) Kind() Kind {
	switch {
	case c.ExecutionServer != "":
		return KindServer
	case c.JobID != "":
		return KindDownload
	case c.Email != "":
		return KindUser
	default:
		return KindUnknown
	}
}

// Credentials converts verified claims to lifecycle credentials. Server
// tokens are granted the executionserver scope.
func (c Claims) Credentials() jobs.Credentials {
	switch c.Kind() {
	case KindServer:
		return jobs.Credentials{ExecutionServer: c.ExecutionServer, Scopes: []string{jobs.ScopeExecutionServer}}
	case KindUser:
		return jobs.Credentials{Email: c.Email, Scopes: append([]string(nil), c.Scope...)}
	default:
		return jobs.Credentials{}
	}
}

// Token is a signed token as returned to clients.
type Token struct {
	Token string `json:"token"`
}

// ServerToken is an identity token paired with the server it names.
type ServerToken struct {
	Token           string `json:"token"`
	ExecutionServer string `json:"executionserver"`
}

// Config configures token lifetimes. A zero DownloadTTL issues download
// tokens without an expiry.
type Config struct {
	Secret      []byte
	ServerTTL   time.Duration
	DownloadTTL time.Duration
	UserTTL     time.Duration
}

// Service signs and verifies tokens with a shared HMAC secret.
type Service struct {
	cfg      Config
	registry *executionserver.Registry
	now      func() time.Time
}

// NewService creates a token service. The registry bounds which servers can
// be issued identity tokens.
func NewService(cfg Config, registry *executionserver.Registry) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.ServerTTL <= 0 {
		cfg.ServerTTL = DefaultServerTokenTTL
	}
	return &Service{cfg: cfg, registry: registry, now: time.Now}, nil
}

// IssueServerToken signs an identity token for a configured server.
func (s *Service) IssueServerToken(key string) (Token, error) {
	if _, err := s.registry.Resolve(key); err != nil {
		return Token{}, err
	}
	return s.sign(Claims{ExecutionServer: key}, s.cfg.ServerTTL)
}

// IssueDownloadToken signs a token authorizing the download of one artifact.
func (s *Service) IssueDownloadToken(jobID, name string) (Token, error) {
	if jobID == "" || name == "" {
		return Token{}, fmt.Errorf("%w: download token needs a job id and artifact name", jobs.ErrInvalidJob)
	}
	return s.sign(Claims{JobID: jobID, Name: name}, s.cfg.DownloadTTL)
}

// IssueUserToken signs a user token carrying email and scopes.
func (s *Service) IssueUserToken(email string, scopes []string, ttl time.Duration) (Token, error) {
	if email == "" {
		return Token{}, errors.New("user token needs an email")
	}
	if ttl <= 0 {
		ttl = s.cfg.UserTTL
	}
	return s.sign(Claims{Email: email, Scope: scopes}, ttl)
}

// ServerTokens issues identity tokens for every remote-mode server.
func (s *Service) ServerTokens() ([]ServerToken, error) {
	remote := s.registry.Remote()
	out := make([]ServerToken, 0, len(remote))
	for _, c := range remote {
		tok, err := s.sign(Claims{ExecutionServer: c.Key}, s.cfg.ServerTTL)
		if err != nil {
			return nil, err
		}
		out = append(out, ServerToken{Token: tok.Token, ExecutionServer: c.Key})
	}
	return out, nil
}

// Verify checks the signature and expiry of a token and returns its claims.
// Any failure wraps jobs.ErrUnauthorized.
func (s *Service) Verify(token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", jobs.ErrUnauthorized, err)
	}
	return claims, nil
}

// VerifyDownload verifies a download token.
func (s *Service) VerifyDownload(token string) (Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind() != KindDownload || claims.Name == "" {
		return Claims{}, fmt.Errorf("%w: not a download token", jobs.ErrUnauthorized)
	}
	return claims, nil
}

func (s *Service) sign(claims Claims, ttl time.Duration) (Token, error) {
	now := s.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}
	return Token{Token: signed}, nil
}
