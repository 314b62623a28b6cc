package controller

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// EvaluateContext is the `context` argument to Evaluate (spec.md §4.5.3).
type EvaluateContext string

const (
	ContextRepl      EvaluateContext = "repl"
	ContextWatch     EvaluateContext = "watch"
	ContextHover     EvaluateContext = "hover"
	ContextClipboard EvaluateContext = "clipboard"
	ContextVariables EvaluateContext = "variables"
)

// EvaluateResult is the outcome of Evaluate.
type EvaluateResult struct {
	Result             string
	Type               string
	VariablesReference int
}

// ErrUnknownMetaCommand is returned when a `!`-prefixed repl expression
// names a command Evaluate does not recognise.
var ErrUnknownMetaCommand = errors.New("controller: unknown meta command")

// Evaluate implements spec.md §4.5.3's Evaluate(expression, frame_id,
// context). In the repl context, an expression starting with `!` is a
// meta command (set_option/so, remove_option/ro, set_hostvar/sh,
// template/t); everything else templates the expression in
// bare-expression, fail-on-undefined mode. Caught template errors
// degrade to a successful response whose Result is the error message
// (spec.md §7 "Template errors in Evaluate are returned as the result
// string of a successful response").
func (c *Controller) Evaluate(expression string, frameID int, evalCtx EvaluateContext) (EvaluateResult, error) {
	if evalCtx == ContextRepl && strings.HasPrefix(expression, "!") {
		return c.evaluateMeta(strings.TrimPrefix(expression, "!"), frameID)
	}

	if c.templater == nil {
		return EvaluateResult{Result: expression}, nil
	}
	v, err := c.templater.Template(expression, true, true)
	if err != nil {
		return EvaluateResult{Result: err.Error()}, nil
	}
	return EvaluateResult{Result: fmt.Sprintf("%v", v), Type: goType(v)}, nil
}

// evaluateMeta parses and executes one of the four repl meta commands
// named in spec.md §4.5.3, using google/shlex to tokenize the command
// line the way a shell would (quoted NAME/EXPR arguments survive
// embedded spaces).
func (c *Controller) evaluateMeta(raw string, frameID int) (EvaluateResult, error) {
	cmd, rest, err := firstToken(raw)
	if err != nil {
		return EvaluateResult{}, errors.Wrap(err, "controller: parse meta command")
	}

	switch cmd {
	case "set_option", "so":
		name, expr, err := firstToken(rest)
		if err != nil {
			return EvaluateResult{}, errors.Wrap(err, "controller: parse set_option")
		}
		return c.metaSetOption(frameID, name, expr)

	case "remove_option", "ro":
		name := strings.TrimSpace(rest)
		frame, ok := c.threads.frameByID(frameID)
		if !ok {
			return EvaluateResult{}, errors.Errorf("controller: unknown frame %d", frameID)
		}
		frame.Task.RemoveOption(name)
		return EvaluateResult{}, nil

	case "set_hostvar", "sh":
		name, expr, err := firstToken(rest)
		if err != nil {
			return EvaluateResult{}, errors.Wrap(err, "controller: parse set_hostvar")
		}
		return c.metaSetHostVar(frameID, name, expr)

	case "template", "t":
		if c.templater == nil {
			return EvaluateResult{Result: rest}, nil
		}
		v, terr := c.templater.Template(rest, true, true)
		if terr != nil {
			return EvaluateResult{Result: terr.Error()}, nil
		}
		return EvaluateResult{Result: fmt.Sprintf("%v", v), Type: goType(v)}, nil

	default:
		return EvaluateResult{}, errors.Wrapf(ErrUnknownMetaCommand, "%q", cmd)
	}
}

func (c *Controller) metaSetOption(frameID int, name, expr string) (EvaluateResult, error) {
	frame, ok := c.threads.frameByID(frameID)
	if !ok {
		return EvaluateResult{}, errors.Errorf("controller: unknown frame %d", frameID)
	}
	value, err := c.templateOrRaw(expr)
	if err != nil {
		return EvaluateResult{Result: err.Error()}, nil
	}
	frame.Task.SetOption(name, value)
	return EvaluateResult{Result: fmt.Sprintf("%v", value), Type: goType(value)}, nil
}

func (c *Controller) metaSetHostVar(frameID int, name, expr string) (EvaluateResult, error) {
	frame, ok := c.threads.frameByID(frameID)
	if !ok {
		return EvaluateResult{}, errors.Errorf("controller: unknown frame %d", frameID)
	}
	if c.hostVars == nil {
		return EvaluateResult{}, errors.New("controller: no host-var collaborator configured")
	}
	thread, _ := c.threads.thread(frame.ThreadID)
	host := ""
	if thread != nil {
		host = thread.Host
	}

	value, err := c.templateOrRaw(expr)
	if err != nil {
		return EvaluateResult{Result: err.Error()}, nil
	}
	c.hostVars.Set(host, name, value)
	return EvaluateResult{Result: fmt.Sprintf("%v", value), Type: goType(value)}, nil
}

func (c *Controller) templateOrRaw(expr string) (any, error) {
	if c.templater == nil {
		return expr, nil
	}
	return c.templater.Template(expr, true, true)
}

// firstToken tokenizes s the way a POSIX shell would and returns the
// first token plus the remainder of s following it (surrounding
// whitespace trimmed, otherwise untouched), so a multi-word EXPR argument
// keeps its original spacing and quoting.
func firstToken(s string) (token string, rest string, err error) {
	tokens, err := shlex.Split(s)
	if err != nil {
		return "", "", err
	}
	if len(tokens) == 0 {
		return "", "", errors.New("controller: empty meta command")
	}

	token = tokens[0]
	// The first word ends at the first whitespace whose prefix splits to
	// exactly that token, which skips spaces inside quotes.
	for i, r := range s {
		if !unicode.IsSpace(r) {
			continue
		}
		if prefix, perr := shlex.Split(s[:i]); perr == nil && len(prefix) == 1 && prefix[0] == token {
			return token, strings.TrimSpace(s[i:]), nil
		}
	}
	return token, "", nil
}
