// Package jobs holds named scripts that can be run without a script file.
package jobs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Job is a named map-reduce script.
type Job struct {
	Name        string
	Description string
	Source      string
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Job)
)

func Register(name string, job Job) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if strings.TrimSpace(job.Source) == "" {
		return fmt.Errorf("job %s has no script source", name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}
	job.Name = name
	registry[name] = job
	return nil
}

// MustRegister is Register for use in init functions.
func MustRegister(name string, job Job) {
	if err := Register(name, job); err != nil {
		panic(err)
	}
}

func Get(name string) (Job, error) {
	mu.RLock()
	defer mu.RUnlock()
	job, exists := registry[name]
	if !exists {
		return Job{}, fmt.Errorf("job not found: %s", name)
	}
	return job, nil
}

// List returns the registered job names in alphabetical order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
