package recipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FieldCount is the number of integers every recipe line must carry.
const FieldCount = 5

// ErrNoRecipe is returned when the recipe file does not exist.
var ErrNoRecipe = errors.New("recipe not found")

// ParseError is returned for malformed recipe text. The whole recipe is rejected.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

var rxNumber = regexp.MustCompile(`-?[0-9]+`)

// Parser reads steps from a recipe one at a time.
type Parser struct {
	br   *bufio.Reader
	line int
}

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

// Read returns the next step, skipping blank and comment lines.
func (p *Parser) Read() (st Step, err error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return st, err
		}
		p.line++

		s = strings.TrimSpace(s)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}

		fields := rxNumber.FindAllString(s, -1)
		if len(fields) != FieldCount {
			return st, &ParseError{Line: p.line, Text: s, Msg: "line has wrong field count"}
		}

		var vals [FieldCount]int
		for i, f := range fields {
			vals[i], err = strconv.Atoi(f)
			if err != nil {
				return st, &ParseError{Line: p.line, Text: s, Msg: err.Error()}
			}
		}

		return Step{
			TargetTemperature: vals[0],
			RampRate:          vals[1],
			StirSpeed:         vals[2],
			DwellSeconds:      vals[3],
			Mode:              StabilizeMode(vals[4]),
		}, nil
	}
}

// Parse parses an entire recipe. Any bad line fails the whole recipe.
func Parse(name, data string) (*Recipe, error) {
	p := NewParser(strings.NewReader(data))
	var steps []Step
	for {
		st, err := p.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return &Recipe{name: name, steps: steps}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(data string) *Recipe {
	r, err := Parse("", data)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseFile reads and parses a recipe file, named after its base name.
//
// A missing file is reported as ErrNoRecipe, distinct from a *ParseError.
func ParseFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoRecipe, path)
	}
	if err != nil {
		return nil, err
	}
	return Parse(filepath.Base(path), string(data))
}
