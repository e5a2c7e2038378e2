// Package catalog holds the default task checklist for each service an agent can offer.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/utils"
)

//go:embed service_tasks.yaml
var serviceTasksYAML []byte

type TaskTemplate struct {
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Assignee    models.Assignee `yaml:"assignee"`
	DueInDays   int             `yaml:"due_in_days"`
}

type Service struct {
	DisplayName string         `yaml:"display_name"`
	Tasks       []TaskTemplate `yaml:"tasks"`
}

// Catalog maps service keys to their definitions.
type Catalog struct {
	services map[string]Service
}

var defaultCatalog = mustParse(serviceTasksYAML)

// Default returns the embedded catalog.
func Default() *Catalog {
	return defaultCatalog
}

func mustParse(data []byte) *Catalog {
	c, err := Parse(data)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded service catalog: %v", err))
	}
	return c
}

// Parse reads a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var services map[string]Service
	if err := yaml.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("failed to parse service catalog: %w", err)
	}
	for key, svc := range services {
		for i, t := range svc.Tasks {
			switch t.Assignee {
			case models.AssigneeAgent, models.AssigneeClient, models.AssigneeBoth:
			default:
				return nil, fmt.Errorf("service %s task %d: invalid assignee %q", key, i, t.Assignee)
			}
			if t.DueInDays < 0 {
				return nil, fmt.Errorf("service %s task %d: negative due_in_days", key, i)
			}
		}
	}
	return &Catalog{services: services}, nil
}

// Keys returns the known service keys, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.services))
	for k := range c.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Catalog) Lookup(key string) (Service, bool) {
	svc, ok := c.services[key]
	return svc, ok
}

// DisplayName returns the human readable name of a service, falling back to a title-cased key.
func (c *Catalog) DisplayName(key string) string {
	if svc, ok := c.services[key]; ok && svc.DisplayName != "" {
		return svc.DisplayName
	}
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	return cases.Title(language.Und, cases.NoLower).String(strings.Join(words, " "))
}

// Tasks instantiates the checklist for a service. Unknown keys yield an empty, non-nil list.
// Templates with a due_in_days get a deadline relative to now.
func (c *Catalog) Tasks(key string, now time.Time) []models.Task {
	svc, ok := c.services[key]
	if !ok {
		return []models.Task{}
	}
	tasks := make([]models.Task, 0, len(svc.Tasks))
	for _, t := range svc.Tasks {
		task := models.Task{
			ID:          utils.NewID(),
			Title:       t.Title,
			Description: t.Description,
			Status:      models.TaskStatusPending,
			Assignee:    t.Assignee,
		}
		if t.DueInDays > 0 {
			deadline := now.AddDate(0, 0, t.DueInDays)
			task.Deadline = &deadline
		}
		tasks = append(tasks, task)
	}
	return tasks
}
