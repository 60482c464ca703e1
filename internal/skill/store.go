package skill

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"apitap/internal/apiterr"
	"apitap/internal/machinecrypto"
	"apitap/pkg/logging"
)

const (
	fileSuffix   = ".skill.json"
	backupSuffix = ".skill.json.bak"
)

// Store persists skill files as per-domain JSON documents in a single
// directory. Writes are atomic (temp file + rename) and the previous
// version is kept as a .bak.
type Store struct {
	mu     sync.Mutex
	fs     afero.Fs
	dir    string
	cipher *machinecrypto.Cipher
}

// NewStore creates a store rooted at dir. The directory is created on
// first use.
func NewStore(fs afero.Fs, dir string, cipher *machinecrypto.Cipher) *Store {
	return &Store{fs: fs, dir: dir, cipher: cipher}
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk path for a domain's skill file.
func (s *Store) Path(domain string) string {
	return filepath.Join(s.dir, sanitizeDomain(domain)+fileSuffix)
}

// Save signs the file under the local key with the given provenance
// and writes it atomically. The previous file, if any, becomes the
// backup.
func (s *Store) Save(f *File, provenance Provenance) error {
	if f.Domain == "" {
		return &apiterr.ValidationError{Reason: "skill file has no domain"}
	}
	if err := Sign(f, s.cipher, provenance); err != nil {
		return fmt.Errorf("failed to sign skill file: %w", err)
	}

	sort.Slice(f.Endpoints, func(i, j int) bool { return f.Endpoints[i].ID < f.Endpoints[j].ID })
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal skill file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create skills directory: %w", err)
	}

	path := s.Path(f.Domain)
	if exists, _ := afero.Exists(s.fs, path); exists {
		backup := filepath.Join(s.dir, sanitizeDomain(f.Domain)+backupSuffix)
		if prev, err := afero.ReadFile(s.fs, path); err == nil {
			_ = afero.WriteFile(s.fs, backup, prev, 0o600)
		}
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write skill file: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace skill file: %w", err)
	}

	logging.Debug("skill", "Saved skill file for %s (%d endpoints)", f.Domain, len(f.Endpoints))
	return nil
}

// Load reads a domain's skill file and re-derives its provenance from
// the signature. A file whose signature no longer verifies is returned
// with unsigned provenance rather than rejected; callers decide how
// much to trust it.
func (s *Store) Load(domain string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.Path(domain))
	if err != nil {
		domains, _ := s.listLocked()
		return nil, &apiterr.NotFoundError{Kind: "skill file", Name: domain, Alternatives: domains}
	}
	return s.decode(data)
}

// Import validates and stores an externally produced skill file.
// validateBase is invoked with the file's baseUrl and must return an
// error for unsafe targets. The imported file is re-signed with
// imported provenance; self provenance from another machine does not
// survive the trip.
func (s *Store) Import(data []byte, validateBase func(string) error) (*File, error) {
	f, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	if f.Domain == "" || f.BaseURL == "" {
		return nil, &apiterr.ValidationError{Reason: "skill file is missing domain or baseUrl"}
	}
	if err := validateBase(f.BaseURL); err != nil {
		return nil, &apiterr.ValidationError{Reason: fmt.Sprintf("unsafe baseUrl %s: %v", f.BaseURL, err)}
	}
	seen := make(map[string]bool, len(f.Endpoints))
	for i := range f.Endpoints {
		if seen[f.Endpoints[i].ID] {
			return nil, &apiterr.IntegrityError{Reason: fmt.Sprintf("duplicate endpoint id %q", f.Endpoints[i].ID)}
		}
		seen[f.Endpoints[i].ID] = true
	}

	if err := s.Save(f, ProvenanceImported); err != nil {
		return nil, err
	}
	return f, nil
}

// List returns the domains that have a skill file, sorted.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Delete removes a domain's skill file and backup.
func (s *Store) Delete(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(domain)
	if exists, _ := afero.Exists(s.fs, path); !exists {
		domains, _ := s.listLocked()
		return &apiterr.NotFoundError{Kind: "skill file", Name: domain, Alternatives: domains}
	}
	_ = s.fs.Remove(filepath.Join(s.dir, sanitizeDomain(domain)+backupSuffix))
	return s.fs.Remove(path)
}

func (s *Store) decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &apiterr.IntegrityError{Reason: fmt.Sprintf("malformed skill file: %v", err)}
	}
	f.Provenance = ClassifyProvenance(&f, s.cipher)
	return &f, nil
}

func (s *Store) listLocked() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, nil
	}
	var domains []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		domains = append(domains, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(domains)
	return domains, nil
}

// sanitizeDomain maps a domain to a filesystem-safe name. Domains are
// already constrained hostnames; this guards against separators only.
func sanitizeDomain(domain string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(strings.ToLower(domain))
}
