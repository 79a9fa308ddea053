package profile

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// authFilePerms restricts auth.json to owner-only read/write, since it holds
// base64-encoded credentials — mirroring the teacher's tokenfile.FilePerms.
const authFilePerms = 0o600

// authEntry is one registry's stored credential, per spec.md §6.1's
// `{"auth": base64("user:pass")}`.
type authEntry struct {
	Auth string `json:"auth"`
}

// authFile is the on-disk shape of auth.json: `{"auths": {"<url>": {...}}}`.
type authFile struct {
	Auths map[string]authEntry `json:"auths"`
}

// CredentialStore implements registry.CredentialSource against
// "$HOME/.ddb/auth.json", matching the docker-config-style auth.json shape
// spec.md §6.1 specifies. It also backs the `login`/`logout` CLI commands
// (spec.md §6.2).
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialStore constructs a CredentialStore rooted at userDir
// ("$HOME/.ddb" in production, an override directory in tests).
func NewCredentialStore(userDir string) *CredentialStore {
	return &CredentialStore{path: filepath.Join(userDir, "auth.json")}
}

// Credentials implements registry.CredentialSource: it decodes the stored
// base64("user:pass") for registryURL.
func (s *CredentialStore) Credentials(registryURL string) (username, password string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return "", "", err
	}

	entry, ok := file.Auths[registryURL]
	if !ok {
		return "", "", ddberr.New(ddberr.KindAuth, "profile.Credentials",
			fmt.Errorf("no stored credentials for %s", registryURL))
	}

	decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
	if err != nil {
		return "", "", ddberr.New(ddberr.KindAuth, "profile.Credentials", err)
	}

	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", ddberr.New(ddberr.KindAuth, "profile.Credentials",
			fmt.Errorf("malformed auth entry for %s", registryURL))
	}

	return user, pass, nil
}

// Login stores username/password for registryURL (spec.md §6.2 `login`),
// overwriting any existing entry.
func (s *CredentialStore) Login(registryURL, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}

	if file.Auths == nil {
		file.Auths = map[string]authEntry{}
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	file.Auths[registryURL] = authEntry{Auth: encoded}

	return s.save(file)
}

// Logout removes registryURL's stored credentials (spec.md §6.2 `logout`).
// It is not an error to log out of a registry with no stored credentials.
func (s *CredentialStore) Logout(registryURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}

	delete(file.Auths, registryURL)

	return s.save(file)
}

func (s *CredentialStore) load() (authFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return authFile{Auths: map[string]authEntry{}}, nil
	}

	if err != nil {
		return authFile{}, ddberr.New(ddberr.KindFilesystem, "profile.load", err)
	}

	var file authFile
	if err := json.Unmarshal(data, &file); err != nil {
		return authFile{}, ddberr.New(ddberr.KindFilesystem, "profile.load", err)
	}

	if file.Auths == nil {
		file.Auths = map[string]authEntry{}
	}

	return file, nil
}

// save writes file atomically (temp file + rename), matching the teacher's
// tokenfile.Save pattern.
func (s *CredentialStore) save(file authFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "profile.save", err)
	}

	return atomicWrite(s.path, data, authFilePerms)
}
