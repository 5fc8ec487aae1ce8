package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Services lists the managed services the host runs.
type Services struct {
	Caches       []CacheDef       `yaml:"caches"`
	Invalidators []InvalidatorDef `yaml:"invalidators"`
}

type CacheDef struct {
	Name             string        `yaml:"name"`
	Root             string        `yaml:"root"`
	ServiceUser      string        `yaml:"serviceUser"`
	MinPurgeInterval time.Duration `yaml:"minPurgeInterval"`
	JobName          string        `yaml:"jobName"`
	RequiredPaths    []string      `yaml:"requiredPaths"`
}

type InvalidatorDef struct {
	Name              string        `yaml:"name"`
	ServiceUser       string        `yaml:"serviceUser"`
	Paths             []string      `yaml:"paths"`
	Caches            []string      `yaml:"caches"`
	PurgeOnActivation bool          `yaml:"purgeOnActivation"`
	WatchDir          string        `yaml:"watchDir"`
	Debounce          time.Duration `yaml:"debounce"`
}

func LoadServices(path string) (Services, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Services{}, fmt.Errorf("read services file: %w", err)
	}
	return ParseServices(data)
}

// ParseServices decodes and validates a services document. Unknown fields
// are rejected.
func ParseServices(data []byte) (Services, error) {
	var s Services
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Services{}, fmt.Errorf("parse services: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Services{}, err
	}
	return s, nil
}

func (s Services) Validate() error {
	caches := map[string]struct{}{}
	for i, c := range s.Caches {
		switch {
		case c.Name == "":
			return fmt.Errorf("caches[%d]: name is required", i)
		case c.Root == "":
			return fmt.Errorf("cache %s: root is required", c.Name)
		case c.ServiceUser == "":
			return fmt.Errorf("cache %s: serviceUser is required", c.Name)
		case c.MinPurgeInterval < 0:
			return fmt.Errorf("cache %s: minPurgeInterval must not be negative", c.Name)
		}
		if _, dup := caches[c.Name]; dup {
			return fmt.Errorf("cache %s is defined twice", c.Name)
		}
		caches[c.Name] = struct{}{}
	}

	names := map[string]struct{}{}
	for i, inv := range s.Invalidators {
		switch {
		case inv.Name == "":
			return fmt.Errorf("invalidators[%d]: name is required", i)
		case inv.ServiceUser == "":
			return fmt.Errorf("invalidator %s: serviceUser is required", inv.Name)
		case len(inv.Caches) == 0:
			return fmt.Errorf("invalidator %s: at least one cache is required", inv.Name)
		}
		if _, dup := names[inv.Name]; dup {
			return fmt.Errorf("invalidator %s is defined twice", inv.Name)
		}
		names[inv.Name] = struct{}{}
		for _, c := range inv.Caches {
			if _, ok := caches[c]; !ok {
				return fmt.Errorf("invalidator %s: unknown cache %s", inv.Name, c)
			}
		}
	}
	return nil
}

// ServiceUsers returns every identity the definitions log in as.
func (s Services) ServiceUsers() []string {
	seen := map[string]struct{}{}
	var users []string
	add := func(u string) {
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			users = append(users, u)
		}
	}
	for _, c := range s.Caches {
		add(c.ServiceUser)
	}
	for _, inv := range s.Invalidators {
		add(inv.ServiceUser)
	}
	return users
}
