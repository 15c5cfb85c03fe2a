package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"reagent/internal/domain"
)

// CalculatorTool evaluates arithmetic expressions.
type CalculatorTool struct{}

// NewCalculatorTool creates the calculator tool.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name: "calculator",
		Description: "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, " +
			"and the functions sqrt, abs, floor, ceil, round, min, max.",
		Parameters: map[string]domain.ParameterDefinition{
			"expression": {
				Type:        domain.ParamString,
				Description: "Arithmetic expression, e.g. 15*23 or sqrt(2)^2",
				Required:    true,
			},
		},
		ResultSchema: []byte(`{"type":"number"}`),
	}
}

func (t *CalculatorTool) Execute(_ context.Context, params map[string]domain.Value) (domain.Value, error) {
	expr := StringArg(params, "expression")
	v, err := Evaluate(expr)
	if err != nil {
		return domain.Value{}, Failf("%v", err)
	}
	return domain.NumberValue(v), nil
}

// Evaluate parses and computes an arithmetic expression.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	p.next()
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNum
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

type exprParser struct {
	src string
	pos int
	tok token
	err error
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
			p.pos++
			if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
				p.pos++
			}
			for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
				p.pos++
			}
		}
		text := p.src[start:p.pos]
		f, err := strconv.ParseFloat(text, 64)
		if err != nil && p.err == nil {
			p.err = fmt.Errorf("invalid number %q", text)
		}
		p.tok = token{kind: tokNum, text: text, num: f, pos: start}
	case unicode.IsLetter(rune(c)):
		for p.pos < len(p.src) && (unicode.IsLetter(rune(p.src[p.pos])) || isDigit(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: strings.ToLower(p.src[start:p.pos]), pos: start}
	default:
		p.pos++
		text := string(c)
		if c == '*' && p.pos < len(p.src) && p.src[p.pos] == '*' {
			p.pos++
			text = "^"
		}
		p.tok = token{kind: tokOp, text: text, pos: start}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (p *exprParser) isOp(op string) bool { return p.tok.kind == tokOp && p.tok.text == op }

// parseExpr := term (('+' | '-') term)*
func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

// parseTerm := unary (('*' | '/' | '%') unary)*
func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.tok.text
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
	return left, nil
}

// parseUnary := ('-' | '+') unary | power
func (p *exprParser) parseUnary() (float64, error) {
	if p.isOp("-") {
		p.next()
		v, err := p.parseUnary()
		return -v, err
	}
	if p.isOp("+") {
		p.next()
		return p.parseUnary()
	}
	return p.parsePower()
}

// parsePower := primary ('^' unary)?   (right associative)
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	switch p.tok.kind {
	case tokNum:
		v := p.tok.num
		p.next()
		return v, p.err
	case tokIdent:
		return p.parseIdent()
	case tokOp:
		if p.isOp("(") {
			p.next()
			v, err := p.parseExpr()
			if err != nil {
				return 0, err
			}
			if !p.isOp(")") {
				return 0, fmt.Errorf("missing closing parenthesis at offset %d", p.tok.pos)
			}
			p.next()
			return v, nil
		}
		return 0, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	default:
		return 0, fmt.Errorf("unexpected end of expression")
	}
}

var constants = map[string]float64{"pi": math.Pi, "e": math.E}

var functions = map[string]func(args []float64) (float64, error){
	"sqrt": unary(func(x float64) (float64, error) {
		if x < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(x), nil
	}),
	"abs":   unary(func(x float64) (float64, error) { return math.Abs(x), nil }),
	"floor": unary(func(x float64) (float64, error) { return math.Floor(x), nil }),
	"ceil":  unary(func(x float64) (float64, error) { return math.Ceil(x), nil }),
	"round": unary(func(x float64) (float64, error) { return math.Round(x), nil }),
	"min":   variadic(math.Min),
	"max":   variadic(math.Max),
}

func unary(f func(float64) (float64, error)) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return f(args[0])
	}
}

func variadic(f func(a, b float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("expected at least 1 argument")
		}
		acc := args[0]
		for _, a := range args[1:] {
			acc = f(acc, a)
		}
		return acc, nil
	}
}

func (p *exprParser) parseIdent() (float64, error) {
	name, pos := p.tok.text, p.tok.pos
	p.next()

	if !p.isOp("(") {
		if v, ok := constants[name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown identifier %q at offset %d", name, pos)
	}

	fn, ok := functions[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %q at offset %d", name, pos)
	}
	p.next()

	var args []float64
	if !p.isOp(")") {
		for {
			v, err := p.parseExpr()
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			if !p.isOp(",") {
				break
			}
			p.next()
		}
	}
	if !p.isOp(")") {
		return 0, fmt.Errorf("missing closing parenthesis for %s", name)
	}
	p.next()

	v, err := fn(args)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
