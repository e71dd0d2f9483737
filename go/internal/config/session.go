package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoSlug         = errors.New("session descriptor: slug is required")
	ErrInvalidSlug    = errors.New("session descriptor: slug may only contain letters, digits, '-' and '_'")
	ErrNoStreams      = errors.New("session descriptor: at least one stream is required")
	ErrBadStartTime   = errors.New("session descriptor: startTime must not be negative")
	ErrEmptyStreamURL = errors.New("session descriptor: stream url is empty")
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Session is the descriptor of the one session a server process runs. JSON
// descriptors parse too, since YAML is a superset.
type Session struct {
	Slug           string            `yaml:"slug" json:"slug"`
	Title          string            `yaml:"title,omitempty" json:"title,omitempty"`
	Streams        map[string]string `yaml:"streams,omitempty" json:"streams,omitempty"`
	StreamURL      string            `yaml:"streamUrl,omitempty" json:"streamUrl,omitempty"`
	StartTime      float64           `yaml:"startTime" json:"startTime"`
	LeaderPassword string            `yaml:"leaderPassword,omitempty" json:"-"`
}

// LoadSession reads and validates a descriptor.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session descriptor: %w", err)
	}
	return ParseSession(data)
}

// ParseSession decodes and validates a descriptor.
func ParseSession(data []byte) (*Session, error) {
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session descriptor: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Session) Validate() error {
	if s.Slug == "" {
		return ErrNoSlug
	}
	if !slugPattern.MatchString(s.Slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, s.Slug)
	}
	if len(s.Streams) == 0 && s.StreamURL == "" {
		return ErrNoStreams
	}
	for format, url := range s.Streams {
		if url == "" {
			return fmt.Errorf("%w: format %q", ErrEmptyStreamURL, format)
		}
	}
	if s.StartTime < 0 {
		return ErrBadStartTime
	}
	return nil
}

// Formats lists the available stream formats in a stable order. A bare
// streamUrl is reported as "default".
func (s *Session) Formats() []string {
	out := make([]string, 0, len(s.Streams)+1)
	for f := range s.Streams {
		out = append(out, f)
	}
	sort.Strings(out)
	if s.StreamURL != "" {
		if _, ok := s.Streams["default"]; !ok {
			out = append(out, "default")
		}
	}
	return out
}

// Stream returns the locator for a format, falling back to streamUrl and
// then to the first format in Formats order.
func (s *Session) Stream(format string) string {
	if url, ok := s.Streams[format]; ok {
		return url
	}
	if s.StreamURL != "" {
		return s.StreamURL
	}
	if formats := s.Formats(); len(formats) > 0 {
		return s.Streams[formats[0]]
	}
	return ""
}
