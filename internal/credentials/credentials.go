// package credentials implements the shared username → password-hash table and its append-only backing file.
//
// The file holds one "username,hash" record per line. It is read once by [Open] and only ever
// appended to afterwards; records are never rewritten or removed.
package credentials

import (
	"bufio"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sobelx/internal/protocol"
)

// Outcome is the result of an [Store.Authenticate] call.
type Outcome int

const (
	Failed Outcome = iota
	Success
	Created
)

// String returns the wire representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Success:
		return protocol.AuthSuccess
	case Created:
		return protocol.AccountCreated
	default:
		return protocol.AuthFailed
	}
}

// Accepted reports whether the session may proceed to the image phase.
func (o Outcome) Accepted() bool {
	return o == Success || o == Created
}

var (
	ErrHashUnavailable = errors.New("sha-256 is not available")
	ErrInvalidUsername = errors.New("invalid username")
)

// Store is the in-memory credential table mirrored to a flat file.
//
// A single mutex covers lookup, insert and file append, so concurrent registrations of the same
// new username resolve to exactly one [Created].
type Store struct {
	mu     sync.Mutex
	path   string
	users  map[string]string
	file   *os.File
	logger *log.Logger

	// unterminated is set when the file's last line has no trailing newline.
	unterminated bool
}

// MaxUsernameLen bounds usernames in bytes.
const MaxUsernameLen = 256

// maxLineLen is the longest record load accepts: a maximal username, a comma, a hex digest.
const maxLineLen = MaxUsernameLen + 1 + sha256.Size*2

// Open loads the credential file at path. A missing file yields an empty store; it is created on
// the first registration. Malformed lines are skipped with a warning.
func Open(path string, logger *log.Logger) (*Store, error) {
	if !crypto.SHA256.Available() {
		return nil, ErrHashUnavailable
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Store{path: path, users: make(map[string]string), logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no credential file found, a new one will be created", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open credential file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lineNo := 0
	for {
		raw, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read credential file: %w", err)
		}
		if raw != "" {
			lineNo++
			s.unterminated = !strings.HasSuffix(raw, "\n")
			s.loadLine(strings.TrimRight(raw, "\r\n"), lineNo)
		}
		if err != nil {
			break
		}
	}

	s.logger.Info("credentials loaded", "path", s.path, "users", len(s.users))
	return nil
}

func (s *Store) loadLine(line string, lineNo int) {
	if len(line) > maxLineLen {
		s.logger.Warn("skipping oversized credential line", "path", s.path, "line", lineNo, "bytes", len(line))
		return
	}
	username, hash, ok := parseLine(line)
	if !ok {
		if line != "" {
			s.logger.Warn("skipping malformed credential line", "path", s.path, "line", lineNo)
		}
		return
	}
	if _, dup := s.users[username]; dup {
		s.logger.Warn("ignoring duplicate credential line", "path", s.path, "line", lineNo, "username", username)
		return
	}
	s.users[username] = hash
}

// parseLine splits a record into exactly two non-empty comma-separated fields.
func parseLine(line string) (username, hash string, ok bool) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ValidateUsername rejects names the line format cannot represent.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > MaxUsernameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUsername, MaxUsernameLen)
	}
	if strings.ContainsAny(username, ",\r\n") {
		return fmt.Errorf("%w: %q contains a separator character", ErrInvalidUsername, username)
	}
	return nil
}

// Hash returns the lowercase hex SHA-256 digest of password.
func Hash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate checks password against the stored hash for username, registering the user when
// the name has never been seen.
//
// A failed file append is logged and does not undo the in-memory registration.
func (s *Store) Authenticate(username, password string) (Outcome, error) {
	if err := ValidateUsername(username); err != nil {
		return Failed, err
	}
	hash := Hash(password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.users[username]; ok {
		if stored == hash {
			return Success, nil
		}
		return Failed, nil
	}

	s.users[username] = hash
	if err := s.appendLocked(username, hash); err != nil {
		s.logger.Error("failed to persist new account", "username", username, "path", s.path, "error", err)
	}
	s.logger.Info("account created", "username", username)
	return Created, nil
}

func (s *Store) appendLocked(username, hash string) error {
	if s.file == nil {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		s.file = f
	}
	if s.unterminated {
		if _, err := s.file.WriteString("\n"); err != nil {
			return err
		}
		s.unterminated = false
	}
	_, err := fmt.Fprintf(s.file, "%s,%s\n", username, hash)
	return err
}

// Len returns the number of known users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Usernames returns all known usernames in sorted order.
func (s *Store) Usernames() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// Close releases the append handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
