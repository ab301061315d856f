package bot

import (
	"fmt"
	"regexp"
)

// Command names understood by the dispatcher.
const (
	CommandPing   = "ping"
	CommandHello  = "hello"
	CommandRun    = "run"
	CommandPython = "python"
)

// Command is a parsed chat command with its named captures.
type Command struct {
	Name     string
	Captures map[string]string
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Parser matches text against named patterns in registration order.
type Parser struct {
	patterns []pattern
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Add registers expr under name. Registering a name again replaces its
// pattern but keeps its position.
func (p *Parser) Add(name, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", name, err)
	}
	for i := range p.patterns {
		if p.patterns[i].name == name {
			p.patterns[i].re = re
			return nil
		}
	}
	p.patterns = append(p.patterns, pattern{name: name, re: re})
	return nil
}

// Remove unregisters name and reports whether it was registered.
func (p *Parser) Remove(name string) bool {
	for i := range p.patterns {
		if p.patterns[i].name == name {
			p.patterns = append(p.patterns[:i], p.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// Parse returns the first pattern matching text.
func (p *Parser) Parse(text string) (Command, bool) {
	for _, pt := range p.patterns {
		match := pt.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		captures := make(map[string]string)
		for i, group := range pt.re.SubexpNames() {
			if group != "" {
				captures[group] = match[i]
			}
		}
		return Command{Name: pt.name, Captures: captures}, true
	}
	return Command{}, false
}

// NewCommandParser registers the bot commands for messages mentioning botName.
func NewCommandParser(botName string) (*Parser, error) {
	mention := "@" + regexp.QuoteMeta(botName)
	p := NewParser()
	for _, c := range []struct{ name, expr string }{
		{CommandPing, `(?s)^` + mention + ` +-ping\s*$`},
		{CommandHello, `(?s)^` + mention + ` +-(?:docker-)?hello\s*$`},
		{CommandRun, `^` + mention + ` +-run +(?P<image>[a-z0-9][a-z0-9._-]*)(?P<arg>(?: +[^\n]*)?)\s*$`},
		{CommandPython, "(?s)^" + mention + "(?P<arg>[^\\n]*)\\n+```(?:python|py)?\\n(?P<code>.*?)\\n```\\s*$"},
	} {
		if err := p.Add(c.name, c.expr); err != nil {
			return nil, err
		}
	}
	return p, nil
}
