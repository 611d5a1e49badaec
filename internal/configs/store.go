package configs

import (
	"os"
	"strings"
	"sync"
)

// Store is a source of flat key/value configuration overrides. Keys are
// returned with the prefix stripped.
type Store interface {
	Load(prefix string) (map[string]string, error)
	Save(prefix string, values map[string]string) error
}

// EnvStore reads overrides from the process environment. Keys are lowercased
// after the prefix is stripped: CAGE_SECURITY_LEVEL becomes security_level.
type EnvStore struct {
	// Environ defaults to os.Environ.
	Environ func() []string
}

func (s EnvStore) Load(prefix string) (map[string]string, error) {
	environ := s.Environ
	if environ == nil {
		environ = os.Environ
	}

	values := make(map[string]string)
	for _, kv := range environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}
	return values, nil
}

func (s EnvStore) Save(prefix string, values map[string]string) error {
	for key, value := range values {
		if err := os.Setenv(prefix+strings.ToUpper(key), value); err != nil {
			return err
		}
	}
	return nil
}

// MemoryStore keeps overrides in memory. The zero value is ready to use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *MemoryStore) Load(prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string]string)
	for key, value := range s.data {
		if strings.HasPrefix(key, prefix) {
			values[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return values, nil
}

func (s *MemoryStore) Save(prefix string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]string)
	}
	for key, value := range values {
		s.data[prefix+key] = value
	}
	return nil
}

// FileStore persists overrides as a flat TOML table of strings.
type FileStore struct {
	Path string
}

func (s FileStore) read() (map[string]string, error) {
	data := make(map[string]string)
	if _, err := os.Stat(s.Path); os.IsNotExist(err) {
		return data, nil
	}
	if err := LoadTOML(s.Path, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s FileStore) Load(prefix string) (map[string]string, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range data {
		if strings.HasPrefix(key, prefix) {
			values[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return values, nil
}

func (s FileStore) Save(prefix string, values map[string]string) error {
	data, err := s.read()
	if err != nil {
		return err
	}
	for key, value := range values {
		data[prefix+key] = value
	}
	return SaveTOML(s.Path, data)
}
