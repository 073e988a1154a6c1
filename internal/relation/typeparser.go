package relation

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind discriminates the parsed DuckDB type descriptor variants.
type TypeKind int

const (
	// KindScalar is any non-nested type (INTEGER, VARCHAR, DATE, ...).
	KindScalar TypeKind = iota
	// KindDecimal is a fixed-point DECIMAL(precision, scale).
	KindDecimal
	// KindStruct is STRUCT(name type, ...).
	KindStruct
	// KindList is type[] (possibly fixed-size type[n]).
	KindList
	// KindMap is MAP(key, value).
	KindMap
)

// Type is a parsed DuckDB type descriptor.
type Type struct {
	Kind TypeKind

	// Raw is the original descriptor text, reusable in CAST expressions.
	Raw string

	// Name is the scalar type name (KindScalar only).
	Name string

	// Precision and Scale are set for KindDecimal.
	Precision int
	Scale     int

	// Fields are set for KindStruct.
	Fields []Field

	// Elem is set for KindList.
	Elem *Type

	// Key and Value are set for KindMap.
	Key   *Type
	Value *Type
}

// Field is a named member of a struct type.
type Field struct {
	Name string
	Type Type
}

// IsStruct reports whether the type is a struct.
func (t Type) IsStruct() bool { return t.Kind == KindStruct }

// IsList reports whether the type is a list.
func (t Type) IsList() bool { return t.Kind == KindList }

// String returns the original descriptor text.
func (t Type) String() string { return t.Raw }

// ParseType parses a DuckDB type descriptor string such as
// "STRUCT(x INTEGER, tags VARCHAR[])[]" into a Type tree.
func ParseType(s string) (Type, error) {
	p := &typeParser{input: s}
	t, err := p.parseType()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return Type{}, fmt.Errorf("unexpected trailing input in type descriptor %q at offset %d", s, p.pos)
	}
	return t, nil
}

// typeParser is a minimal recursive-descent parser over type descriptors.
type typeParser struct {
	input string
	pos   int
}

func (p *typeParser) parseType() (Type, error) {
	p.skipSpace()
	start := p.pos

	word, err := p.ident()
	if err != nil {
		return Type{}, err
	}

	var t Type
	switch strings.ToUpper(word) {
	case "STRUCT":
		t, err = p.parseStruct()
	case "MAP":
		t, err = p.parseMap()
	case "DECIMAL", "NUMERIC":
		t, err = p.parseDecimal()
	default:
		t, err = p.parseScalar(word)
	}
	if err != nil {
		return Type{}, err
	}

	t.Raw = strings.TrimSpace(p.input[start:p.pos])

	// List suffixes bind tightest and may stack: INTEGER[][], STRUCT(...)[3].
	for p.peek() == '[' {
		p.pos++
		for p.pos < len(p.input) && p.input[p.pos] != ']' {
			if !isDigit(p.input[p.pos]) {
				return Type{}, fmt.Errorf("malformed list suffix in type descriptor %q", p.input)
			}
			p.pos++
		}
		if p.peek() != ']' {
			return Type{}, fmt.Errorf("unterminated list suffix in type descriptor %q", p.input)
		}
		p.pos++
		elem := t
		t = Type{Kind: KindList, Elem: &elem}
		t.Raw = strings.TrimSpace(p.input[start:p.pos])
	}

	return t, nil
}

func (p *typeParser) parseStruct() (Type, error) {
	if err := p.expect('('); err != nil {
		return Type{}, err
	}

	var fields []Field
	for {
		p.skipSpace()
		name, err := p.fieldName()
		if err != nil {
			return Type{}, err
		}

		ft, err := p.parseType()
		if err != nil {
			return Type{}, err
		}
		fields = append(fields, Field{Name: name, Type: ft})

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return Type{Kind: KindStruct, Fields: fields}, nil
		default:
			return Type{}, fmt.Errorf("expected ',' or ')' in struct descriptor %q at offset %d", p.input, p.pos)
		}
	}
}

func (p *typeParser) parseMap() (Type, error) {
	if err := p.expect('('); err != nil {
		return Type{}, err
	}
	key, err := p.parseType()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if err := p.expect(','); err != nil {
		return Type{}, err
	}
	val, err := p.parseType()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if err := p.expect(')'); err != nil {
		return Type{}, err
	}
	return Type{Kind: KindMap, Key: &key, Value: &val}, nil
}

func (p *typeParser) parseDecimal() (Type, error) {
	p.skipSpace()
	if p.peek() != '(' {
		// Bare DECIMAL defaults to (18,3) in DuckDB.
		return Type{Kind: KindDecimal, Precision: 18, Scale: 3}, nil
	}
	p.pos++

	prec, err := p.number()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()

	scale := 0
	if p.peek() == ',' {
		p.pos++
		scale, err = p.number()
		if err != nil {
			return Type{}, err
		}
		p.skipSpace()
	}
	if err := p.expect(')'); err != nil {
		return Type{}, err
	}
	return Type{Kind: KindDecimal, Precision: prec, Scale: scale}, nil
}

// parseScalar consumes any remaining words and an optional parameter list,
// covering multi-word names like "TIMESTAMP WITH TIME ZONE" and
// parameterized ones like VARCHAR(20).
func (p *typeParser) parseScalar(first string) (Type, error) {
	name := strings.ToUpper(first)
	for {
		save := p.pos
		p.skipSpace()
		w, err := p.ident()
		if err != nil || w == "" {
			p.pos = save
			break
		}
		name += " " + strings.ToUpper(w)
	}

	p.skipSpace()
	if p.peek() == '(' {
		depth := 0
		for p.pos < len(p.input) {
			switch p.input[p.pos] {
			case '(':
				depth++
			case ')':
				depth--
			}
			p.pos++
			if depth == 0 {
				break
			}
		}
		if depth != 0 {
			return Type{}, fmt.Errorf("unterminated parameter list in type descriptor %q", p.input)
		}
	}
	return Type{Kind: KindScalar, Name: name}, nil
}

// fieldName reads a struct field name, which DuckDB quotes when it contains
// characters outside the bare-identifier set.
func (p *typeParser) fieldName() (string, error) {
	p.skipSpace()
	if p.peek() == '"' {
		p.pos++
		var sb strings.Builder
		for p.pos < len(p.input) {
			c := p.input[p.pos]
			if c == '"' {
				if p.pos+1 < len(p.input) && p.input[p.pos+1] == '"' {
					sb.WriteByte('"')
					p.pos += 2
					continue
				}
				p.pos++
				return sb.String(), nil
			}
			sb.WriteByte(c)
			p.pos++
		}
		return "", fmt.Errorf("unterminated quoted field name in %q", p.input)
	}
	return p.ident()
}

func (p *typeParser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier in type descriptor %q at offset %d", p.input, p.pos)
	}
	return p.input[start:p.pos], nil
}

func (p *typeParser) number() (int, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("expected number in type descriptor %q at offset %d", p.input, p.pos)
	}
	return strconv.Atoi(p.input[start:p.pos])
}

func (p *typeParser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return fmt.Errorf("expected %q in type descriptor %q at offset %d", string(c), p.input, p.pos)
	}
	p.pos++
	return nil
}

func (p *typeParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
