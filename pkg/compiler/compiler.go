package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"text/template"
)

// Output is the compiled prompt pair for one invocation.
type Output struct {
	StaticSystemPrompt string
	DynamicUserPrompt  string
	Metadata           map[string]string
	ArtifactReferences []string
}

// promptData is what user templates can reference.
type promptData struct {
	AgentName      string
	ProjectID      string
	SessionSummary string
	Context        string
	Artifacts      string
}

type compiled struct {
	system *template.Template
	user   *template.Template
}

// Compiler renders prompts from a table of templates.
// Safe for concurrent use.
type Compiler struct {
	mu    sync.RWMutex
	table map[string]compiled
	bound Bound
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithBound overrides the limits used when flattening the working context.
func WithBound(b Bound) Option {
	return func(c *Compiler) {
		c.bound = b
	}
}

// New creates a compiler preloaded with Templates.
func New(opts ...Option) (*Compiler, error) {
	c := &Compiler{
		table: make(map[string]compiled),
		bound: DefaultBound(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for name, t := range Templates {
		if err := c.Register(name, t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is New that panics on a malformed default table.
func MustNew(opts ...Option) *Compiler {
	c, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Register adds or replaces the row for agentName.
func (c *Compiler) Register(agentName string, t Template) error {
	sys, err := template.New(agentName + ".system").Option("missingkey=zero").Parse(t.System)
	if err != nil {
		return fmt.Errorf("parse system template for %s: %w", agentName, err)
	}
	userText := t.User
	if userText == "" {
		userText = DefaultUserTemplate
	}
	usr, err := template.New(agentName + ".user").Option("missingkey=zero").Parse(userText)
	if err != nil {
		return fmt.Errorf("parse user template for %s: %w", agentName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[agentName] = compiled{system: sys, user: usr}
	return nil
}

func (c *Compiler) lookup(agentName string) (compiled, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.table[agentName]; ok {
		return t, agentName
	}
	return c.table[GenericAgent], GenericAgent
}

// Compile renders the prompt pair. Identical inputs always yield identical output.
func (c *Compiler) Compile(agentName, projectID string, workingContext map[string]any, sessionSummary string, artifactRefs []string) (Output, error) {
	t, row := c.lookup(agentName)
	if t.system == nil {
		return Output{}, fmt.Errorf("no template for %s and no %s fallback", agentName, GenericAgent)
	}

	refs := make([]string, len(artifactRefs))
	for i, id := range artifactRefs {
		refs[i] = ArtifactToken(id)
	}
	data := promptData{
		AgentName:      agentName,
		ProjectID:      projectID,
		SessionSummary: sessionSummary,
		Context:        c.Flatten(workingContext),
		Artifacts:      strings.Join(refs, " "),
	}

	system, err := render(t.system, promptData{AgentName: agentName})
	if err != nil {
		return Output{}, err
	}
	user, err := render(t.user, data)
	if err != nil {
		return Output{}, err
	}

	return Output{
		StaticSystemPrompt: system,
		DynamicUserPrompt:  user,
		Metadata: map[string]string{
			"agent":        agentName,
			"project_id":   projectID,
			"template":     row,
			"context_keys": strconv.Itoa(len(workingContext)),
			"artifacts":    strconv.Itoa(len(refs)),
		},
		ArtifactReferences: refs,
	}, nil
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// ArtifactToken formats an artifact id as a prompt reference.
func ArtifactToken(id string) string {
	return "[artifact:" + id + "]"
}

// Flatten renders a map as sorted "key: value" lines; nested maps use dotted keys.
func (c *Compiler) Flatten(m map[string]any) string {
	var lines []string
	c.flatten("", m, &lines)
	return strings.Join(lines, "\n")
}

func (c *Compiler) flatten(prefix string, m map[string]any, lines *[]string) {
	for _, k := range sortedKeys(m) {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			if len(v) == 0 {
				*lines = append(*lines, key+": {}")
				continue
			}
			c.flatten(key, v, lines)
		default:
			*lines = append(*lines, key+": "+c.scalar(v))
		}
	}
}

func (c *Compiler) scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return c.bound.Truncate(x)
	case fmt.Stringer:
		return c.bound.Truncate(x.String())
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer:
		data, err := json.Marshal(c.bound.Apply(v))
		if err != nil {
			return c.bound.Truncate(fmt.Sprint(v))
		}
		return c.bound.Truncate(string(data))
	}
	return fmt.Sprint(v)
}
