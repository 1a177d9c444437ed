package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	// Prefix starts every command.
	Prefix = "/"
	// SelfTarget is the tag target meaning the requester.
	SelfTarget = "myself"
	// MentionPrefix addresses the assistant.
	MentionPrefix = "@ai"
)

// AI subcommands.
const (
	ActionStop    = "stop"
	ActionEnable  = "enable"
	ActionDisable = "disable"
)

var (
	ErrNotCommand = errors.New("not a command")
	ErrUnknown    = errors.New("invalid command")
)

// UsageError reports a known command with malformed arguments.
type UsageError struct {
	Name  string
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// Command is a parsed command. Only the fields relevant to its shape are set.
type Command struct {
	Name       string
	Spec       Spec
	User       string
	Self       bool
	Minutes    int
	HasMinutes bool
	Text       string
	Color      string
	ID         string
	Secret     string
	Action     string
}

// Normalize trims input and rewrites a leading "./" to "/".
func Normalize(input string) string {
	s := strings.TrimSpace(input)
	if strings.HasPrefix(s, "./") {
		s = s[1:]
	}
	return s
}

// IsCommand reports whether input is addressed to the command parser.
func IsCommand(input string) bool {
	return strings.HasPrefix(Normalize(input), Prefix)
}

type token struct {
	value  string
	quoted bool
	end    int
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// tokenize splits s into whitespace-separated words; double-quoted runs are
// a single token.
func tokenize(s string) ([]token, error) {
	var out []token
	offset := 0
	for {
		tok, ok := headToken(s[offset:])
		if !ok {
			if strings.TrimSpace(s[offset:]) != "" {
				return nil, errors.New("unterminated quote")
			}
			return out, nil
		}
		tok.end += offset
		offset = tok.end
		out = append(out, tok)
	}
}

// Parse parses a command line. It returns ErrNotCommand when input lacks the
// prefix, ErrUnknown for names outside the table and *UsageError when the
// arguments do not fit the command's shape.
func Parse(input string) (Command, error) {
	s := Normalize(input)
	if !strings.HasPrefix(s, Prefix) {
		return Command{}, ErrNotCommand
	}
	body := s[len(Prefix):]

	nameEnd := strings.IndexFunc(body, unicode.IsSpace)
	if nameEnd < 0 {
		nameEnd = len(body)
	}
	name := strings.ToLower(body[:nameEnd])
	spec, ok := Lookup(name)
	if !ok {
		return Command{}, ErrUnknown
	}
	rest := body[nameEnd:]

	cmd := Command{Name: spec.Name, Spec: spec}
	usage := &UsageError{Name: spec.Name, Usage: spec.Usage}

	switch spec.Shape {
	case ShapeIDText, ShapeUserText:
		head, ok := headToken(rest)
		if !ok || head.value == "" {
			return Command{}, usage
		}
		if spec.Shape == ShapeIDText {
			cmd.ID = head.value
		} else {
			cmd.User = head.value
		}
		cmd.Text = remainder(rest, head.end)
		if cmd.Text == "" {
			return Command{}, usage
		}
		return cmd, nil

	case ShapeText:
		cmd.Text = strings.TrimSpace(rest)
		if cmd.Text == "" {
			return Command{}, usage
		}
		return cmd, nil
	}

	args, err := tokenize(rest)
	if err != nil {
		return Command{}, usage
	}

	switch spec.Shape {
	case ShapeNone:
		if len(args) != 0 {
			return Command{}, usage
		}

	case ShapeUser:
		if len(args) != 1 || args[0].value == "" {
			return Command{}, usage
		}
		cmd.User = args[0].value

	case ShapeOptionalUser:
		if len(args) > 1 {
			return Command{}, usage
		}
		if len(args) == 1 {
			cmd.User = args[0].value
		}

	case ShapeUserMinutes, ShapeUserOptionalMinutes:
		if len(args) < 1 || len(args) > 2 || args[0].value == "" {
			return Command{}, usage
		}
		cmd.User = args[0].value
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1].value)
			if err != nil || n <= 0 {
				return Command{}, usage
			}
			cmd.Minutes, cmd.HasMinutes = n, true
		} else if spec.Shape == ShapeUserMinutes {
			return Command{}, usage
		}

	case ShapeUserSecret:
		if len(args) != 2 || args[0].value == "" {
			return Command{}, usage
		}
		cmd.User, cmd.Secret = args[0].value, args[1].value

	case ShapeTag:
		if len(args) < 2 || len(args) > 3 || !args[1].quoted {
			return Command{}, usage
		}
		target := args[0].value
		if strings.EqualFold(target, SelfTarget) {
			cmd.Self = true
		} else {
			if !args[0].quoted || target == "" {
				return Command{}, usage
			}
			cmd.User = target
		}
		cmd.Text = args[1].value
		if len(args) == 3 {
			color, ok := ColorFlags[strings.ToLower(args[2].value)]
			if !ok || args[2].quoted {
				return Command{}, usage
			}
			cmd.Color = color
		}

	case ShapeID:
		if len(args) != 1 || args[0].value == "" {
			return Command{}, usage
		}
		cmd.ID = args[0].value

	case ShapeAI:
		if len(args) == 0 {
			return Command{}, usage
		}
		cmd.Action = strings.ToLower(args[0].value)
		switch cmd.Action {
		case ActionStop:
			if len(args) > 2 {
				return Command{}, usage
			}
			if len(args) == 2 {
				cmd.User = args[1].value
			}
		case ActionEnable, ActionDisable:
			if len(args) != 1 {
				return Command{}, usage
			}
		default:
			return Command{}, usage
		}

	default:
		return Command{}, fmt.Errorf("command %s: unsupported shape %d", spec.Name, spec.Shape)
	}
	return cmd, nil
}

// headToken scans only the first token of s.
func headToken(s string) (token, bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i == len(s) {
		return token{}, false
	}
	if s[i] == '"' {
		j := strings.IndexByte(s[i+1:], '"')
		if j < 0 {
			return token{}, false
		}
		return token{value: s[i+1 : i+1+j], quoted: true, end: i + 2 + j}, true
	}
	j := i
	for j < len(s) && !isSpace(s[j]) {
		j++
	}
	return token{value: s[i:j], end: j}, true
}

// remainder returns the text after offset, unquoting a single quoted run.
func remainder(rest string, offset int) string {
	text := strings.TrimSpace(rest[offset:])
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' && strings.Count(text, `"`) == 2 {
		text = text[1 : len(text)-1]
	}
	return text
}

// Mention is a parsed "@ai" message.
type Mention struct {
	Stop   bool
	Target string
	Prompt string
}

// ParseMention recognizes text addressed to the assistant.
func ParseMention(input string) (Mention, bool) {
	s := strings.TrimSpace(input)
	if len(s) < len(MentionPrefix) || !strings.EqualFold(s[:len(MentionPrefix)], MentionPrefix) {
		return Mention{}, false
	}
	rest := s[len(MentionPrefix):]
	if rest != "" && !isSpace(rest[0]) {
		return Mention{}, false
	}
	rest = strings.TrimSpace(rest)

	args, err := tokenize(rest)
	if err == nil && len(args) >= 1 && len(args) <= 2 && strings.EqualFold(args[0].value, ActionStop) && !args[0].quoted {
		m := Mention{Stop: true}
		if len(args) == 2 {
			m.Target = args[1].value
		}
		return m, true
	}
	return Mention{Prompt: rest}, true
}
