// Package ifc reads ISO 10303-21 STEP physical files far enough to classify
// structural elements and resolve their attached quantity sets. It is not a
// schema validator; anything beyond header checks, entity instances and the
// quantity relationship chain is ignored.
package ifc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Magic tokens of a STEP physical file.
const (
	fileMagic  = "ISO-10303-21"
	fileFooter = "END-ISO-10303-21"
)

// supportedSchemas lists the IFC releases the extractor understands.
var supportedSchemas = map[string]bool{
	"IFC2X3": true,
	"IFC4":   true,
	"IFC4X1": true,
	"IFC4X3": true,
}

// Entity is one instance record from the DATA section, e.g.
// #12=IFCBEAM('guid',#5,'B-1',$,$,#20,#21,$);
type Entity struct {
	ID   int
	Type string
	Args []string
}

// Str decodes argument i as a STEP string. ok is false for nulls, refs and
// out-of-range indexes.
func (e *Entity) Str(i int) (string, bool) {
	raw, ok := e.arg(i)
	if !ok || len(raw) < 2 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
		return "", false
	}
	return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), true
}

// Ref decodes argument i as an entity reference (#n).
func (e *Entity) Ref(i int) (int, bool) {
	raw, ok := e.arg(i)
	if !ok || len(raw) < 2 || raw[0] != '#' {
		return 0, false
	}
	id, err := strconv.Atoi(raw[1:])
	if err != nil {
		return 0, false
	}
	return id, true
}

// Float decodes argument i as a real or integer value.
func (e *Entity) Float(i int) (float64, bool) {
	raw, ok := e.arg(i)
	if !ok {
		return 0, false
	}
	// STEP writes reals like 12.5 or 1.2E1; a trailing dot (42.) is legal.
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// List decodes argument i as an aggregate, returning its raw members.
func (e *Entity) List(i int) ([]string, bool) {
	raw, ok := e.arg(i)
	if !ok || len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return nil, false
	}
	return splitArgs(raw[1 : len(raw)-1]), true
}

func (e *Entity) arg(i int) (string, bool) {
	if i < 0 || i >= len(e.Args) {
		return "", false
	}
	raw := e.Args[i]
	if raw == "" || raw == "$" || raw == "*" {
		return "", false
	}
	return raw, true
}

// File is a parsed model. Entities are indexed by instance id and by type so
// the extractor can walk element families without rescanning.
type File struct {
	Schema   string
	entities map[int]*Entity
	byType   map[string][]*Entity

	// qsets maps element ids to their quantity-set definitions; built on
	// first use by ElementQuantity.
	qsets map[int][]*Entity
}

// Entity returns the instance with the given id, or nil.
func (f *File) Entity(id int) *Entity {
	return f.entities[id]
}

// ByType returns all instances of the given type, in file order. The name is
// matched case-insensitively against the record's type token.
func (f *File) ByType(name string) []*Entity {
	return f.byType[strings.ToUpper(name)]
}

// SupportedSchema reports whether the file declares an IFC release the
// extractor understands.
func (f *File) SupportedSchema() bool {
	return supportedSchemas[f.Schema]
}

// Parse reads a STEP physical file. It fails on a missing magic token, an
// unreadable header or malformed instance records; unknown entity types are
// kept as opaque instances.
func Parse(r io.Reader) (*File, error) {
	records := newRecordScanner(r)

	first, err := records.next()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if first != fileMagic {
		return nil, fmt.Errorf("not a STEP file: expected %s, got %q", fileMagic, truncate(first, 32))
	}

	f := &File{
		entities: make(map[int]*Entity),
		byType:   make(map[string][]*Entity),
	}
	for {
		rec, err := records.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case rec == "" || rec == "HEADER" || rec == "DATA" || rec == "ENDSEC" || rec == fileFooter:
			// Section markers carry no payload.
		case strings.HasPrefix(rec, "#"):
			ent, err := parseInstance(rec)
			if err != nil {
				return nil, err
			}
			f.entities[ent.ID] = ent
			f.byType[ent.Type] = append(f.byType[ent.Type], ent)
		case strings.HasPrefix(strings.ToUpper(rec), "FILE_SCHEMA"):
			f.Schema = parseSchema(rec)
		default:
			// Other header records (FILE_DESCRIPTION, FILE_NAME) are ignored.
		}
	}
	return f, nil
}

// parseInstance decodes "#12=IFCBEAM(arg,arg,...)".
func parseInstance(rec string) (*Entity, error) {
	eq := strings.IndexByte(rec, '=')
	if eq < 0 {
		return nil, fmt.Errorf("malformed instance record %q", truncate(rec, 64))
	}
	id, err := strconv.Atoi(strings.TrimSpace(rec[1:eq]))
	if err != nil {
		return nil, fmt.Errorf("malformed instance id in %q", truncate(rec, 64))
	}
	body := strings.TrimSpace(rec[eq+1:])
	open := strings.IndexByte(body, '(')
	if open < 0 || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("malformed instance body in #%d", id)
	}
	return &Entity{
		ID:   id,
		Type: strings.ToUpper(strings.TrimSpace(body[:open])),
		Args: splitArgs(body[open+1 : len(body)-1]),
	}, nil
}

// parseSchema pulls the release name out of FILE_SCHEMA(('IFC4')).
func parseSchema(rec string) string {
	start := strings.IndexByte(rec, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(rec[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return strings.ToUpper(rec[start+1 : start+1+end])
}

// splitArgs splits an argument list at top-level commas, leaving nested
// aggregates and quoted strings intact.
func splitArgs(s string) []string {
	var (
		args     []string
		depth    int
		inString bool
		start    int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\'' {
				// Doubled quotes escape a literal quote inside the string.
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" || len(args) > 0 {
		args = append(args, tail)
	}
	return args
}

// recordScanner yields records terminated by top-level semicolons, skipping
// comments and whitespace. STEP records routinely span lines, so this cannot
// be a line scanner.
type recordScanner struct {
	r *bufio.Reader
}

func newRecordScanner(r io.Reader) *recordScanner {
	return &recordScanner{r: bufio.NewReaderSize(r, 64<<10)}
}

func (s *recordScanner) next() (string, error) {
	var (
		buf      strings.Builder
		inString bool
	)
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				return strings.TrimSpace(buf.String()), nil
			}
			return "", err
		}
		if inString {
			buf.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			continue
		}
		switch c {
		case '\'':
			inString = true
			buf.WriteByte(c)
		case ';':
			return strings.TrimSpace(buf.String()), nil
		case '/':
			// Possible /* ... */ comment.
			if next, _ := s.r.Peek(1); len(next) == 1 && next[0] == '*' {
				if err := s.skipComment(); err != nil {
					return "", err
				}
				continue
			}
			buf.WriteByte(c)
		case '\n', '\r', '\t':
			buf.WriteByte(' ')
		default:
			buf.WriteByte(c)
		}
	}
}

func (s *recordScanner) skipComment() error {
	if _, err := s.r.Discard(1); err != nil {
		return err
	}
	var prev byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return fmt.Errorf("unterminated comment: %w", err)
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
