package postprocess

import (
	"database/sql"
	"strconv"
	"strings"
	"unicode"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/query"
)

// Apply normalizes generated statements for d: whitespace runs collapse to one
// space, comments and statement separators are dropped, and every placeholder
// is rewritten to the dialect's single style. Parameters are returned in first
// use order; unreferenced ones are dropped. Applying it twice is a no-op.
func Apply(statements []string, params query.Params, d dialect.Dialect) ([]string, query.Params) {
	r := newResolver(params)
	style := d.Placeholders()
	out := make([]string, 0, len(statements))
	for _, statement := range statements {
		var w writer
		flush := func() {
			if text := w.String(); text != "" {
				out = append(out, text)
			}
			w = writer{}
		}
		for _, tok := range tokenize(statement) {
			switch tok.kind {
			case tokenCode:
				w.code(tok.text)
			case tokenComment:
				w.code(" ")
			case tokenLiteral:
				w.verbatim(tok.text)
			case tokenSeparator:
				flush()
			default:
				pos := r.resolve(tok)
				if style == dialect.PositionalDollar {
					w.verbatim("$" + strconv.Itoa(pos+1))
				} else {
					w.verbatim("@" + r.out[pos].Name)
				}
			}
		}
		flush()
	}
	return out, r.out
}

// Statement is Apply for a single statement text. Any separator inside it is
// treated as a statement break and the parts are joined back with "; ".
func Statement(sqlText string, params query.Params, d dialect.Dialect) (string, query.Params) {
	statements, out := Apply([]string{sqlText}, params, d)
	return strings.Join(statements, "; "), out
}

// Bind renders one normalized statement into driver text and arguments.
// PostgreSQL gets $n renumbered densely for the statement with only the
// args it references, SQL Server keeps @name with sql.Named args, and the
// other drivers receive ? placeholders in order.
func Bind(sqlText string, params query.Params, d dialect.Dialect) (string, []any) {
	var (
		text      strings.Builder
		args      []any
		named     = map[string]struct{}{}
		local     = map[int]int{}
		questions int
	)
	valueOf := func(tok token) (string, any) {
		switch tok.kind {
		case tokenNamed:
			if i, ok := params.Lookup(tok.name); ok {
				return params[i].Name, params[i].Value
			}
			return tok.name, nil
		case tokenNumbered:
			if tok.number >= 1 && tok.number <= len(params) {
				return params[tok.number-1].Name, params[tok.number-1].Value
			}
			return "p" + strconv.Itoa(tok.number), nil
		default:
			questions++
			if questions <= len(params) {
				return params[questions-1].Name, params[questions-1].Value
			}
			return "p" + strconv.Itoa(questions), nil
		}
	}

	for _, tok := range tokenize(sqlText) {
		switch tok.kind {
		case tokenCode, tokenLiteral, tokenComment:
			text.WriteString(tok.text)
		case tokenSeparator:
			text.WriteString(";")
		default:
			switch d {
			case dialect.PostgreSQL:
				if tok.kind != tokenNumbered {
					text.WriteString(tok.text)
					continue
				}
				pos, seen := local[tok.number]
				if !seen {
					_, value := valueOf(tok)
					args = append(args, value)
					pos = len(args)
					local[tok.number] = pos
				}
				text.WriteString("$" + strconv.Itoa(pos))
			case dialect.SQLServer:
				name, value := valueOf(tok)
				text.WriteString("@" + name)
				if _, seen := named[name]; !seen {
					named[name] = struct{}{}
					args = append(args, sql.Named(name, value))
				}
			default:
				_, value := valueOf(tok)
				text.WriteString("?")
				args = append(args, value)
			}
		}
	}

	return strings.TrimSpace(text.String()), args
}

// HasPlaceholders reports whether sqlText references any parameter.
func HasPlaceholders(sqlText string) bool {
	for _, tok := range tokenize(sqlText) {
		switch tok.kind {
		case tokenNamed, tokenNumbered, tokenQuestion:
			return true
		}
	}
	return false
}

type resolver struct {
	in       query.Params
	out      query.Params
	position map[int]int
	taken    map[string]struct{}
	question int
}

func newResolver(params query.Params) *resolver {
	return &resolver{
		in:       append(query.Params(nil), params...),
		position: map[int]int{},
		taken:    map[string]struct{}{},
	}
}

func (r *resolver) resolve(tok token) int {
	var idx int
	switch tok.kind {
	case tokenNamed:
		idx = r.byName(tok.name)
	case tokenNumbered:
		idx = r.byPosition(tok.number)
	default:
		r.question++
		idx = r.byPosition(r.question)
	}

	if pos, ok := r.position[idx]; ok {
		return pos
	}
	param := r.in[idx]
	if !validIdentifier(param.Name) || r.isTaken(param.Name) {
		param.Name = r.freshName(len(r.out) + 1)
	}
	r.taken[strings.ToLower(param.Name)] = struct{}{}
	r.out = append(r.out, param)
	r.position[idx] = len(r.out) - 1
	return len(r.out) - 1
}

func (r *resolver) byName(name string) int {
	if i, ok := r.in.Lookup(name); ok {
		return i
	}
	r.in = append(r.in, query.Param{Name: name})
	return len(r.in) - 1
}

func (r *resolver) byPosition(n int) int {
	if n >= 1 && n <= len(r.in) {
		return n - 1
	}
	return r.byName("p" + strconv.Itoa(n))
}

func (r *resolver) isTaken(name string) bool {
	_, ok := r.taken[strings.ToLower(name)]
	return ok
}

func (r *resolver) freshName(n int) string {
	for {
		name := "p" + strconv.Itoa(n)
		if _, exists := r.in.Lookup(name); !exists && !r.isTaken(name) {
			return name
		}
		n++
	}
}

type writer struct {
	b         strings.Builder
	lastSpace bool
}

func (w *writer) code(text string) {
	for _, r := range text {
		if unicode.IsSpace(r) {
			if w.b.Len() > 0 && !w.lastSpace {
				w.b.WriteByte(' ')
				w.lastSpace = true
			}
			continue
		}
		w.b.WriteRune(r)
		w.lastSpace = false
	}
}

func (w *writer) verbatim(text string) {
	w.b.WriteString(text)
	w.lastSpace = false
}

func (w *writer) String() string {
	return strings.TrimRight(w.b.String(), " ")
}
