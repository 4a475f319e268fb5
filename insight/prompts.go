package insight

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompt is a system/user pair sent to a model.
type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// SearchToolSpec describes the search tool offered to the model.
type SearchToolSpec struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	QueryDescription string `yaml:"query_description"`
}

// Prompts is the full template set.
type Prompts struct {
	Basic               map[string]Prompt `yaml:"basic"`
	Enhanced            map[string]Prompt `yaml:"enhanced"`
	LanguageInstruction string            `yaml:"language_instruction"`
	Structure           Prompt            `yaml:"structure"`
	SearchTool          SearchToolSpec    `yaml:"search_tool"`
}

// StructureInput feeds the structuring prompt.
type StructureInput struct {
	Term            string
	Language        string
	Text            string
	SearchPerformed bool
	SearchQuery     string
	SourceCount     int
}

// ParsePrompts decodes a YAML template set and checks it is usable.
func ParsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if _, ok := p.Basic[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("parse prompts: missing basic template for %q", DefaultLanguage)
	}
	if _, ok := p.Enhanced[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("parse prompts: missing enhanced template for %q", DefaultLanguage)
	}
	if p.SearchTool.Name == "" {
		return nil, fmt.Errorf("parse prompts: missing search tool name")
	}
	return &p, nil
}

// LoadPromptsFile reads templates from path, or returns the built-in set
// when path is empty.
func LoadPromptsFile(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return ParsePrompts(data)
}

// DefaultPrompts returns the embedded template set.
func DefaultPrompts() *Prompts {
	p, err := ParsePrompts(defaultPromptsYAML)
	if err != nil {
		panic(err)
	}
	return p
}

func pick(templates map[string]Prompt, lang string) Prompt {
	if t, ok := templates[lang]; ok {
		return t
	}
	return templates[DefaultLanguage]
}

func (p *Prompts) render(t Prompt, term, lang string) Prompt {
	instruction := strings.ReplaceAll(p.LanguageInstruction, "{language}", NativeName(lang))
	return Prompt{
		System: strings.TrimSpace(t.System + " " + instruction),
		User:   strings.ReplaceAll(t.User, "{keyword}", term),
	}
}

// BasicPrompt renders the single-step analysis prompt.
func (p *Prompts) BasicPrompt(term, lang string) Prompt {
	return p.render(pick(p.Basic, lang), term, lang)
}

// EnhancedPrompt renders the tool-augmented analysis prompt.
func (p *Prompts) EnhancedPrompt(term, lang string) Prompt {
	return p.render(pick(p.Enhanced, lang), term, lang)
}

// StructurePrompt renders the prompt that turns free text into the
// structured result.
func (p *Prompts) StructurePrompt(in StructureInput) Prompt {
	var queryLine, countLine string
	if in.SearchQuery != "" {
		queryLine = "- Search query: " + in.SearchQuery
	}
	if in.SourceCount > 0 {
		countLine = "- Number of sources: " + strconv.Itoa(in.SourceCount)
	}

	r := strings.NewReplacer(
		"{keyword}", in.Term,
		"{language}", NativeName(in.Language),
		"{text}", in.Text,
		"{searchPerformed}", strconv.FormatBool(in.SearchPerformed),
		"{searchQueryLine}", queryLine,
		"{sourceCountLine}", countLine,
	)
	return Prompt{
		System: r.Replace(p.Structure.System),
		User:   collapseBlankLines(r.Replace(p.Structure.User)),
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
