package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// ErrMissingCredentials is returned when no username or password is available
var ErrMissingCredentials = errors.New("wiki credentials not set")

// Environment variables consulted for credentials, in order of preference
var (
	UsernameEnv = []string{"WIKISYNC_USERNAME", "IGEM_USERNAME"}
	PasswordEnv = []string{"WIKISYNC_PASSWORD", "IGEM_PASSWORD"}
)

// Credentials holds the wiki account used for uploads
type Credentials struct {
	Username string
	Password string
}

// PasswordPrompt asks the operator for a password. A nil prompt disables
// interactive input.
type PasswordPrompt func(prompt string) (string, error)

// LoadCredentials reads the wiki credentials once at startup. Variables from
// envFile are loaded first (missing file is fine) without overriding the
// process environment.
func LoadCredentials(envFile string, prompt PasswordPrompt) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	creds := Credentials{
		Username: firstEnv(UsernameEnv),
		Password: firstEnv(PasswordEnv),
	}
	if creds.Username == "" {
		return Credentials{}, fmt.Errorf("%w: set %s", ErrMissingCredentials, UsernameEnv[0])
	}

	if creds.Password == "" && prompt != nil {
		password, err := prompt(fmt.Sprintf("Wiki password for %s: ", creds.Username))
		if err != nil {
			return Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		creds.Password = password
	}
	if creds.Password == "" {
		return Credentials{}, fmt.Errorf("%w: set %s", ErrMissingCredentials, PasswordEnv[0])
	}

	return creds, nil
}

// TerminalPrompt returns a PasswordPrompt reading from the controlling
// terminal, or nil when stdin is not a terminal.
func TerminalPrompt() PasswordPrompt {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(prompt string) (string, error) {
		_, _ = fmt.Fprint(os.Stderr, prompt)
		password, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(password)), nil
	}
}

func firstEnv(names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
