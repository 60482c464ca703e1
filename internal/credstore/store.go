// Package credstore stores per-domain credentials encrypted at rest:
// header auth, session cookie bundles, named opaque tokens, and OAuth
// refresh credentials. Everything lives in one encrypted blob keyed to
// the local machine identity; a machine-id change makes the store read
// as empty.
package credstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"apitap/internal/machinecrypto"
	"apitap/pkg/logging"
)

// FileName is the encrypted credential blob inside the state dir.
const FileName = "credentials.enc"

// DefaultSessionMaxAge applies when a stored session has no explicit
// max age.
const DefaultSessionMaxAge = 24 * time.Hour

// Auth is a stored header credential.
type Auth struct {
	// Type is one of bearer, cookie, api-key, custom.
	Type      string     `json:"type"`
	Header    string     `json:"header"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Token is a named opaque token with its refresh timestamp.
type Token struct {
	Value       string    `json:"value"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// Cookie is one browser cookie.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Session is a browser context snapshot.
type Session struct {
	Cookies  []Cookie  `json:"cookies"`
	SavedAt  time.Time `json:"savedAt"`
	MaxAgeMS int64     `json:"maxAgeMs"`
}

// Valid reports whether the session is still within its max age.
func (s *Session) Valid(now time.Time) bool {
	maxAge := time.Duration(s.MaxAgeMS) * time.Millisecond
	if s.MaxAgeMS <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return now.Before(s.SavedAt.Add(maxAge))
}

// OAuthCredentials hold the secrets of a detected OAuth flow. They are
// rotated in place on successful refresh.
type OAuthCredentials struct {
	ClientSecret string `json:"clientSecret,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type domainRecord struct {
	Auth      *Auth             `json:"auth,omitempty"`
	Session   *Session          `json:"session,omitempty"`
	Tokens    map[string]Token  `json:"tokens,omitempty"`
	OAuth     *OAuthCredentials `json:"oauth,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type record struct {
	Domains map[string]*domainRecord `json:"domains"`
}

// Store is the encrypted credential store. All operations load the
// blob, mutate, and atomically rewrite it under a single mutex.
type Store struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	cipher *machinecrypto.Cipher
	now    func() time.Time
}

// NewStore creates a credential store persisting to dir/credentials.enc.
func NewStore(fs afero.Fs, dir string, cipher *machinecrypto.Cipher) *Store {
	return &Store{
		fs:     fs,
		path:   filepath.Join(dir, FileName),
		cipher: cipher,
		now:    time.Now,
	}
}

// Store saves header auth for a domain.
func (s *Store) Store(domain string, auth *Auth) error {
	return s.update(domain, func(r *domainRecord) {
		r.Auth = auth
	})
}

// Retrieve returns the auth stored for exactly this domain, or nil.
func (s *Store) Retrieve(domain string) (*Auth, error) {
	rec, err := s.domain(domain)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Auth, nil
}

// RetrieveWithFallback walks parent domains (api.a.b -> a.b) and
// returns the first stored auth found.
func (s *Store) RetrieveWithFallback(domain string) (*Auth, error) {
	for _, candidate := range ParentDomains(domain) {
		auth, err := s.Retrieve(candidate)
		if err != nil {
			return nil, err
		}
		if auth != nil {
			return auth, nil
		}
	}
	return nil, nil
}

// StoreSession saves a cookie bundle for a domain.
func (s *Store) StoreSession(domain string, session *Session) error {
	if session != nil && session.SavedAt.IsZero() {
		session.SavedAt = s.now()
	}
	return s.update(domain, func(r *domainRecord) {
		r.Session = session
	})
}

// RetrieveSession returns the domain's session if it is still within
// its max age; expired sessions read as absent.
func (s *Store) RetrieveSession(domain string) (*Session, error) {
	rec, err := s.domain(domain)
	if err != nil || rec == nil || rec.Session == nil {
		return nil, err
	}
	if !rec.Session.Valid(s.now()) {
		return nil, nil
	}
	return rec.Session, nil
}

// RetrieveSessionWithFallback walks parent domains for a valid session.
func (s *Store) RetrieveSessionWithFallback(domain string) (*Session, error) {
	for _, candidate := range ParentDomains(domain) {
		session, err := s.RetrieveSession(candidate)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return nil, nil
}

// StoreTokens merges named opaque tokens into the domain record,
// stamping each with the current time.
func (s *Store) StoreTokens(domain string, values map[string]string) error {
	now := s.now()
	return s.update(domain, func(r *domainRecord) {
		if r.Tokens == nil {
			r.Tokens = make(map[string]Token, len(values))
		}
		for name, value := range values {
			r.Tokens[name] = Token{Value: value, RefreshedAt: now}
		}
	})
}

// RetrieveTokens returns the domain's named tokens.
func (s *Store) RetrieveTokens(domain string) (map[string]Token, error) {
	rec, err := s.domain(domain)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Tokens, nil
}

// StoreOAuthCredentials saves OAuth refresh credentials for a domain.
func (s *Store) StoreOAuthCredentials(domain string, creds *OAuthCredentials) error {
	return s.update(domain, func(r *domainRecord) {
		r.OAuth = creds
	})
}

// RetrieveOAuthCredentials returns the domain's OAuth credentials.
func (s *Store) RetrieveOAuthCredentials(domain string) (*OAuthCredentials, error) {
	rec, err := s.domain(domain)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.OAuth, nil
}

// ListDomains returns all domains with stored credentials, sorted,
// with their last update time.
func (s *Store) ListDomains() (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.load()
	out := make(map[string]time.Time, len(r.Domains))
	for domain, rec := range r.Domains {
		out[domain] = rec.UpdatedAt
	}
	return out, nil
}

// Clear removes all credentials for a domain.
func (s *Store) Clear(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.load()
	delete(r.Domains, strings.ToLower(domain))
	return s.save(r)
}

// ClearAll wipes the entire store.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(&record{Domains: map[string]*domainRecord{}})
}

func (s *Store) domain(domain string) (*domainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.load()
	return r.Domains[strings.ToLower(domain)], nil
}

func (s *Store) update(domain string, mutate func(*domainRecord)) error {
	if domain == "" {
		return fmt.Errorf("empty domain")
	}
	key := strings.ToLower(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.load()
	rec := r.Domains[key]
	if rec == nil {
		rec = &domainRecord{}
		r.Domains[key] = rec
	}
	mutate(rec)
	rec.UpdatedAt = s.now()
	return s.save(r)
}

// load decrypts the blob. Any failure (missing file, machine-id
// change, tampering) reads as an empty store.
func (s *Store) load() *record {
	empty := &record{Domains: map[string]*domainRecord{}}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return empty
	}
	var env machinecrypto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Warn("credstore", "Credential store is malformed; treating as empty")
		return empty
	}
	plaintext, err := s.cipher.Decrypt(&env)
	if err != nil {
		logging.Warn("credstore", "Credential store cannot be decrypted (machine change?); treating as empty")
		return empty
	}
	var r record
	if err := json.Unmarshal(plaintext, &r); err != nil {
		return empty
	}
	if r.Domains == nil {
		r.Domains = map[string]*domainRecord{}
	}
	return &r
}

func (s *Store) save(r *record) error {
	plaintext, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	env, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace credential store: %w", err)
	}
	return nil
}

// ParentDomains returns the fallback chain for a domain: itself, then
// each parent down to the registrable two-label domain. IP addresses
// and single-label hosts return only themselves.
func ParentDomains(domain string) []string {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 || isNumericHost(labels) {
		return []string{domain}
	}
	chain := make([]string, 0, len(labels)-1)
	for i := 0; i <= len(labels)-2; i++ {
		chain = append(chain, strings.Join(labels[i:], "."))
	}
	return chain
}

func isNumericHost(labels []string) bool {
	for _, l := range labels {
		for _, c := range l {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
