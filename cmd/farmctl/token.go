package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// tokenSource lazily resolves the bearer token from the --token flag, an
// environment variable or a terminal prompt. The value is cached after the
// first successful retrieval.
type tokenSource struct {
	flagValue string
	envVar    string
	prompt    io.Writer

	once  sync.Once
	value string
	err   error
}

func newTokenSource(flagValue, envVar string, prompt io.Writer) *tokenSource {
	return &tokenSource{flagValue: strings.TrimSpace(flagValue), envVar: envVar, prompt: prompt}
}

func (s *tokenSource) Get() (string, error) {
	s.once.Do(func() {
		if s.flagValue != "" {
			s.value = s.flagValue
			return
		}
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				s.err = fmt.Errorf("%s is set but empty", s.envVar)
				return
			}
			s.value = strings.TrimSpace(value)
			return
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			s.err = fmt.Errorf("bearer token required; pass --token, set %s or run interactively", s.envVar)
			return
		}
		fmt.Fprint(s.prompt, "Enter farmd bearer token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read token: %w", err)
			return
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			s.err = errors.New("bearer token cannot be empty")
			return
		}
		s.value = token
	})
	return s.value, s.err
}
