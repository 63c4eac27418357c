package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/valyala/fasttemplate"
	"gopkg.in/yaml.v3"

	"azure-search-mcp/pkg/models"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// ErrInvalidCatalog is returned when a prompt catalog fails validation.
var ErrInvalidCatalog = errors.New("invalid prompt catalog")

const (
	startTag = "{{"
	endTag   = "}}"
)

// Variables supplied by callers when a template is rendered.
const (
	VarQuery      = "query"
	VarDocuments  = "documents"
	VarNumResults = "num_results"
)

var callTimeVars = map[string]bool{
	VarQuery:      true,
	VarDocuments:  true,
	VarNumResults: true,
}

// Persona is a named role used to flavour prompts.
type Persona struct {
	Key         string   `yaml:"-"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Goals       []string `yaml:"goals"`
}

// Principle is one guiding rule attached to a persona.
type Principle struct {
	Principle   string `yaml:"principle"`
	Description string `yaml:"description"`
}

// Template is a prompt body with persona tags already substituted. Only the
// declared call-time variables remain as placeholders.
type Template struct {
	Name      string
	Persona   string
	Variables []string
	Source    string

	body string
	tmpl *fasttemplate.Template
}

// OutputFormat maps a response format to the template that renders it.
type OutputFormat struct {
	Format      models.Format
	Description string
	Template    string
	Default     bool
}

// Catalog is an immutable, validated set of personas, templates and formats.
type Catalog struct {
	personas      map[string]Persona
	principles    map[string][]Principle
	templates     map[string]*Template
	formats       map[models.Format]OutputFormat
	defaultFormat models.Format
	source        string
}

type rawTemplate struct {
	Persona   string   `yaml:"persona"`
	Variables []string `yaml:"variables"`
	Template  string   `yaml:"template"`
}

type rawFormat struct {
	Description    string `yaml:"description"`
	PromptTemplate string `yaml:"prompt_template"`
	Default        bool   `yaml:"default"`
}

type rawCatalog struct {
	Personas          map[string]Persona     `yaml:"personas"`
	GuidingPrinciples map[string][]Principle `yaml:"guiding_principles"`
	PromptTemplates   map[string]rawTemplate `yaml:"prompt_templates"`
	OutputFormats     map[string]rawFormat   `yaml:"output_formats"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog, "embedded")
}

// LoadFile reads and validates a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening prompt catalog: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading prompt catalog: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes and validates a YAML catalog. Every problem is reported in a
// single error wrapping ErrInvalidCatalog.
func Parse(data []byte, source string) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, source, err)
	}

	c := &Catalog{
		personas:   make(map[string]Persona, len(raw.Personas)),
		principles: raw.GuidingPrinciples,
		templates:  make(map[string]*Template, len(raw.PromptTemplates)),
		formats:    make(map[models.Format]OutputFormat, len(raw.OutputFormats)),
		source:     source,
	}
	if c.principles == nil {
		c.principles = map[string][]Principle{}
	}

	var problems []string
	if len(raw.Personas) == 0 {
		problems = append(problems, "no personas defined")
	}
	for key, p := range raw.Personas {
		if strings.TrimSpace(p.Name) == "" {
			problems = append(problems, fmt.Sprintf("persona %q has no name", key))
		}
		p.Key = key
		c.personas[key] = p
	}

	for _, name := range sortedKeys(raw.PromptTemplates) {
		t, err := c.compile(name, raw.PromptTemplates[name])
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		c.templates[name] = t
	}

	var defaults []string
	for key, f := range raw.OutputFormats {
		format, err := models.ParseFormat(key)
		if err != nil {
			problems = append(problems, fmt.Sprintf("output format %q is not supported", key))
			continue
		}
		if _, ok := raw.PromptTemplates[f.PromptTemplate]; !ok {
			problems = append(problems, fmt.Sprintf("output format %q references unknown template %q", key, f.PromptTemplate))
		}
		if f.Default {
			defaults = append(defaults, key)
		}
		c.formats[format] = OutputFormat{
			Format:      format,
			Description: f.Description,
			Template:    f.PromptTemplate,
			Default:     f.Default,
		}
	}
	for _, f := range models.Formats {
		if _, ok := c.formats[f]; !ok {
			problems = append(problems, fmt.Sprintf("output format %q is missing", f))
		}
	}

	switch len(defaults) {
	case 0:
		c.defaultFormat = models.FormatStructured
	case 1:
		c.defaultFormat = models.Format(defaults[0])
	default:
		sort.Strings(defaults)
		problems = append(problems, "more than one default output format: "+strings.Join(defaults, ", "))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidCatalog, source, strings.Join(problems, "; "))
	}
	return c, nil
}

// compile substitutes persona tags and checks the remaining placeholders
// against the declared variables.
func (c *Catalog) compile(name string, raw rawTemplate) (*Template, error) {
	persona, ok := c.personas[raw.Persona]
	if !ok {
		return nil, fmt.Errorf("template %q references unknown persona %q", name, raw.Persona)
	}
	if strings.TrimSpace(raw.Template) == "" {
		return nil, fmt.Errorf("template %q has an empty body", name)
	}

	declared := make(map[string]bool, len(raw.Variables))
	for _, v := range raw.Variables {
		if !callTimeVars[v] {
			return nil, fmt.Errorf("template %q declares unsupported variable %q", name, v)
		}
		declared[v] = true
	}

	loadTime := map[string]string{
		"persona_name":        persona.Name,
		"persona_description": strings.TrimSpace(persona.Description),
		"persona_goals":       bulletList(persona.Goals),
		"guiding_principles":  formatPrinciples(c.principles[raw.Persona]),
	}

	used := make(map[string]bool)
	body, err := fasttemplate.ExecuteFuncStringWithErr(raw.Template, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		key := strings.TrimSpace(tag)
		if v, ok := loadTime[key]; ok {
			return w.Write([]byte(v))
		}
		if !declared[key] {
			return 0, fmt.Errorf("template %q uses undeclared placeholder %q", name, key)
		}
		used[key] = true
		return w.Write([]byte(startTag + key + endTag))
	})
	if err != nil {
		return nil, err
	}
	for _, v := range raw.Variables {
		if !used[v] {
			return nil, fmt.Errorf("template %q declares variable %q but never uses it", name, v)
		}
	}

	tmpl, err := fasttemplate.NewTemplate(body, startTag, endTag)
	if err != nil {
		return nil, fmt.Errorf("template %q: %v", name, err)
	}
	return &Template{
		Name:      name,
		Persona:   raw.Persona,
		Variables: append([]string(nil), raw.Variables...),
		Source:    raw.Template,
		body:      body,
		tmpl:      tmpl,
	}, nil
}

// Render fills the template's call-time variables. A declared variable
// missing from vars is an error.
func (t *Template) Render(vars map[string]string) (string, error) {
	return t.tmpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		v, ok := vars[tag]
		if !ok {
			return 0, fmt.Errorf("template %q: missing value for %q", t.Name, tag)
		}
		return w.Write([]byte(v))
	})
}

// Body returns the template text after persona substitution.
func (t *Template) Body() string { return t.body }

// Source reports where the catalog was loaded from.
func (c *Catalog) Source() string { return c.source }

// DefaultFormat is the format used when a caller does not pick one.
func (c *Catalog) DefaultFormat() models.Format { return c.defaultFormat }

// Template returns a template by name.
func (c *Catalog) Template(name string) (*Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// TemplateFor returns the template configured for an output format.
func (c *Catalog) TemplateFor(f models.Format) (*Template, error) {
	of, ok := c.formats[f]
	if !ok {
		return nil, fmt.Errorf("no output format %q", f)
	}
	return c.templates[of.Template], nil
}

// Persona returns a persona by key.
func (c *Catalog) Persona(key string) (Persona, bool) {
	p, ok := c.personas[key]
	return p, ok
}

// Principles returns the guiding principles for a persona.
func (c *Catalog) Principles(key string) []Principle {
	return c.principles[key]
}

// Personas returns every persona sorted by key.
func (c *Catalog) Personas() []Persona {
	out := make([]Persona, 0, len(c.personas))
	for _, k := range sortedKeys(c.personas) {
		out = append(out, c.personas[k])
	}
	return out
}

// Templates returns every template sorted by name.
func (c *Catalog) Templates() []*Template {
	out := make([]*Template, 0, len(c.templates))
	for _, k := range sortedKeys(c.templates) {
		out = append(out, c.templates[k])
	}
	return out
}

// Formats returns every output format in canonical order.
func (c *Catalog) Formats() []OutputFormat {
	out := make([]OutputFormat, 0, len(c.formats))
	for _, f := range models.Formats {
		if of, ok := c.formats[f]; ok {
			out = append(out, of)
		}
	}
	return out
}

func formatPrinciples(ps []Principle) string {
	lines := make([]string, 0, len(ps))
	for i, p := range ps {
		lines = append(lines, fmt.Sprintf("%d. **%s:** %s", i+1, p.Principle, p.Description))
	}
	return strings.Join(lines, "\n")
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "- "+it)
	}
	return strings.Join(lines, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
