// Package passphrase resolves the keystore passphrase for the signing
// wallet from a file, an environment variable or the terminal.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase and caches it after the first
// successful retrieval.
type Source struct {
	envVar string
	file   string
	label  string

	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	prompt    func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithFile reads the passphrase from path before consulting the environment.
func WithFile(path string) Option {
	return func(s *Source) { s.file = strings.TrimSpace(path) }
}

// WithLabel names the key in the interactive prompt.
func WithLabel(label string) Option {
	return func(s *Source) {
		if strings.TrimSpace(label) != "" {
			s.label = strings.TrimSpace(label)
		}
	}
}

// WithPrompt replaces the terminal prompt.
func WithPrompt(fn func(label string) (string, error)) Option {
	return func(s *Source) {
		if fn != nil {
			s.prompt = fn
		}
	}
}

// NewSource constructs a passphrase source that checks the file, then
// envVar, before prompting on the terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar:    strings.TrimSpace(envVar),
		label:     "wallet keystore",
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
		prompt:    terminalPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase or resolves it on first use.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.file != "" {
		raw, err := s.readFile(s.file)
		if err != nil {
			return "", fmt.Errorf("read passphrase file: %w", err)
		}
		value := strings.TrimRight(string(raw), "\r\n")
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("passphrase file %s is empty", s.file)
		}
		return value, nil
	}
	if s.envVar != "" {
		if value, ok := s.lookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	value, err := s.prompt(s.label)
	if err != nil {
		if errors.Is(err, errNoTerminal) && s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	return value, nil
}

var errNoTerminal = errors.New("passphrase required and no terminal available")

func terminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	return readPassword(os.Stderr, label, func() ([]byte, error) { return term.ReadPassword(fd) })
}

func readPassword(out io.Writer, label string, read func() ([]byte, error)) (string, error) {
	fmt.Fprintf(out, "Enter %s passphrase: ", label)
	raw, err := read()
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}
