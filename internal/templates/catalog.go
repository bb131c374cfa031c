package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"mediaflow/internal/workflow"
)

//go:embed default_workflows.toml
var defaultCatalog []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// StepTemplate describes one step of a catalog workflow.
type StepTemplate struct {
	ID             string            `toml:"id" validate:"required"`
	Name           string            `toml:"name"`
	Service        string            `toml:"service" validate:"required"`
	Endpoint       string            `toml:"endpoint" validate:"required,startswith=/"`
	Method         string            `toml:"method" validate:"omitempty,oneof=GET POST PUT DELETE get post put delete"`
	TimeoutSeconds int               `toml:"timeout_seconds" validate:"min=0"`
	DependsOn      []string          `toml:"depends_on" validate:"dive,required"`
	Optional       bool              `toml:"optional"`
	MaxRetries     int               `toml:"max_retries" validate:"min=0,max=10"`
	InputMapping   map[string]string `toml:"input_mapping"`
	OutputMapping  map[string]string `toml:"output_mapping"`
}

// Template is one catalog workflow. Nil MaxRetries and TimeoutSeconds fall
// back to the configured defaults.
type Template struct {
	Type           string         `toml:"type" validate:"required"`
	Description    string         `toml:"description"`
	MaxRetries     *int           `toml:"max_retries" validate:"omitempty,min=0"`
	TimeoutSeconds *int           `toml:"timeout_seconds" validate:"omitempty,min=0"`
	RequiredInputs []string       `toml:"required_inputs" validate:"dive,required"`
	Steps          []StepTemplate `toml:"steps" validate:"required,min=1,dive"`
}

// WorkflowSteps converts the template steps into workflow steps.
func (t Template) WorkflowSteps() []workflow.Step {
	steps := make([]workflow.Step, len(t.Steps))
	for i, st := range t.Steps {
		steps[i] = workflow.Step{
			ID:             st.ID,
			Name:           st.Name,
			Service:        st.Service,
			Endpoint:       st.Endpoint,
			Method:         st.Method,
			TimeoutSeconds: st.TimeoutSeconds,
			DependsOn:      st.DependsOn,
			Required:       !st.Optional,
			InputMapping:   st.InputMapping,
			OutputMapping:  st.OutputMapping,
			MaxRetries:     st.MaxRetries,
		}
	}
	return steps
}

// Services lists the distinct services the template calls, sorted.
func (t Template) Services() []string {
	seen := make(map[string]struct{})
	for _, st := range t.Steps {
		seen[strings.ToLower(strings.TrimSpace(st.Service))] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Catalog is a validated set of workflow templates keyed by type.
type Catalog struct {
	Workflows []Template `toml:"workflow" validate:"required,min=1,unique=Type,dive"`
	source    string
}

// Default returns the bundled catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalog, "bundled catalog")
}

// Load reads the catalog at path, or the bundled catalog when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow catalog: %w", err)
	}
	return parse(data, path)
}

// Parse decodes and validates catalog TOML.
func Parse(data []byte) (*Catalog, error) {
	return parse(data, "catalog")
}

func parse(data []byte, source string) (*Catalog, error) {
	var catalog Catalog
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	catalog.source = source
	if err := catalog.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &catalog, nil
}

func (c *Catalog) validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return describeValidation(validationErrors)
		}
		return err
	}
	var problems []error
	for _, tpl := range c.Workflows {
		if err := workflow.ValidateGraph(tpl.WorkflowSteps()); err != nil {
			problems = append(problems, fmt.Errorf("workflow %s: %w", tpl.Type, err))
		}
	}
	return errors.Join(problems...)
}

func describeValidation(validationErrors validator.ValidationErrors) error {
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := strings.TrimPrefix(fe.Namespace(), "Catalog.")
		switch fe.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "unique":
			messages = append(messages, field+" must not repeat a workflow type")
		default:
			param := fe.Param()
			if param != "" {
				param = "=" + param
			}
			messages = append(messages, fmt.Sprintf("%s fails %s%s (got %v)", field, fe.Tag(), param, fe.Value()))
		}
	}
	return fmt.Errorf("invalid workflow catalog: %s", strings.Join(messages, "; "))
}

// Source names where the catalog came from.
func (c *Catalog) Source() string { return c.source }

// Get returns the template for a workflow type.
func (c *Catalog) Get(kind string) (Template, bool) {
	kind = strings.TrimSpace(kind)
	for _, tpl := range c.Workflows {
		if tpl.Type == kind {
			return tpl, true
		}
	}
	return Template{}, false
}

// Types lists the workflow types in catalog order.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.Workflows))
	for i, tpl := range c.Workflows {
		out[i] = tpl.Type
	}
	return out
}

// CheckServices reports templates that call services absent from known.
func (c *Catalog) CheckServices(known []string) error {
	registered := make(map[string]struct{}, len(known))
	for _, name := range known {
		registered[strings.ToLower(name)] = struct{}{}
	}
	var problems []error
	for _, tpl := range c.Workflows {
		for _, name := range tpl.Services() {
			if _, ok := registered[name]; !ok {
				problems = append(problems, fmt.Errorf("workflow %s: service %q is not configured", tpl.Type, name))
			}
		}
	}
	return errors.Join(problems...)
}
