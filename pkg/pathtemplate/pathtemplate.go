// Package pathtemplate compiles a tag-based path template into a
// deterministic relative storage path per instance (spec.md §4.3).
// Templates are compiled once and cached by template string; compiled
// templates are safe for concurrent reuse.
package pathtemplate

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// sopInstanceUIDTag is the DICOM tag a template must reference so that
// per-instance path uniqueness holds.
const sopInstanceUIDTag = "00080018"

// base32Encoding uses the "0-9a-v" alphabet for {tag,md5} rendering.
var base32Encoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// TagLookup resolves a DICOM tag (8 hex-digit group+element) to its string
// value. ok is false when the tag is absent from the dataset.
type TagLookup func(tag string) (value string, ok bool)

// Context carries the per-resolution inputs a compiled template renders
// against: the tag source for the instance being placed and the ingest
// timestamp used for every `now` token.
type Context struct {
	Tags TagLookup
	Now  time.Time
}

type token interface {
	// render returns the rendered segment and whether it should be
	// emitted at all (false means "omitted", per the hash/md5/urlencoded
	// missing-tag rule).
	render(ctx Context) (string, bool)
}

// Template is a compiled path template, safe for concurrent Resolve calls.
type Template struct {
	raw    string
	tokens []token
}

// compileCache memoizes Compile by template string; thread-safe re-entry
// is required by spec.md §4.3.
var compileCache sync.Map // map[string]*Template

// Compile parses tmpl, validates that it references the SOP instance UID
// tag, and returns a cached compiled Template.
func Compile(tmpl string) (*Template, error) {
	if cached, ok := compileCache.Load(tmpl); ok {
		return cached.(*Template), nil
	}
	if !strings.Contains(tmpl, sopInstanceUIDTag) {
		return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("path template %q does not reference tag %s (SOP instance UID)", tmpl, sopInstanceUIDTag))
	}

	tokens, err := parse(tmpl)
	if err != nil {
		return nil, err
	}
	t := &Template{raw: tmpl, tokens: tokens}
	actual, _ := compileCache.LoadOrStore(tmpl, t)
	return actual.(*Template), nil
}

// InvalidateCache drops every compiled template, used when the volume
// manager reloads (spec.md §4.2's "invalidates downstream path-template
// caches").
func InvalidateCache() {
	compileCache.Range(func(key, _ interface{}) bool {
		compileCache.Delete(key)
		return true
	})
}

// Resolve renders the template against ctx and prefixes it with
// tenantCode, producing "{tenantCode}/{formatted}" per spec.md §4.3.
// Empty segments left by missing tags are collapsed, so the result never
// contains "//".
func (t *Template) Resolve(tenantCode string, ctx Context) string {
	var b strings.Builder
	b.WriteString(tenantCode)
	b.WriteByte('/')
	for _, tok := range t.tokens {
		seg, ok := tok.render(ctx)
		if !ok {
			continue
		}
		b.WriteString(seg)
	}
	out := b.String()
	for strings.Contains(out, "//") {
		out = strings.ReplaceAll(out, "//", "/")
	}
	return out
}

func parse(tmpl string) ([]token, error) {
	var tokens []token
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, literalToken(lit.String()))
			lit.Reset()
		}
	}

	i := 0
	for i < len(tmpl) {
		c := tmpl[i]
		if c != '{' {
			lit.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("path template %q has unterminated token starting at %d", tmpl, i))
		}
		flushLit()
		body := tmpl[i+1 : i+end]
		tok, err := parseToken(body)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		i += end + 1
	}
	flushLit()
	return tokens, nil
}

func parseToken(body string) (token, error) {
	parts := strings.Split(body, ",")
	switch parts[0] {
	case "now":
		return parseNowToken(parts)
	case "rnd":
		return parseRndToken(parts)
	default:
		return parseTagToken(parts)
	}
}

func parseNowToken(parts []string) (token, error) {
	if len(parts) < 3 {
		return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("malformed now token %q", strings.Join(parts, ",")))
	}
	kind := parts[1]
	format := parts[2]

	var years, months, days int
	if dash := strings.IndexByte(kind, '-'); dash >= 0 {
		// The '-' here separates "date"/"time" from the period, it is
		// not a subtraction operator: {now,date-P1M,...} resolves to
		// now plus the period (see DESIGN.md's Open Question decisions
		// for why addition, not subtraction, was chosen).
		period := kind[dash+1:]
		kind = kind[:dash]
		var err error
		years, months, days, err = parseISOPeriod(period)
		if err != nil {
			return nil, err
		}
	}
	switch kind {
	case "date", "time":
	default:
		return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("unknown now token kind %q", kind))
	}
	return &nowToken{format: format, years: years, months: months, days: days}, nil
}

func parseRndToken(parts []string) (token, error) {
	if len(parts) == 1 {
		return rndToken{kind: "hex"}, nil
	}
	switch parts[1] {
	case "uuid":
		return rndToken{kind: "uuid"}, nil
	case "uid":
		return rndToken{kind: "uid"}, nil
	default:
		return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("unknown rnd token kind %q", parts[1]))
	}
}

func parseTagToken(parts []string) (token, error) {
	tag := parts[0]
	if len(tag) != 8 {
		return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("invalid tag %q: want 8 hex digits", tag))
	}
	if len(parts) == 1 {
		return &tagToken{tag: tag, modifier: "raw"}, nil
	}

	switch parts[1] {
	case "hash", "md5", "upper", "urlencoded", "number":
		return &tagToken{tag: tag, modifier: parts[1]}, nil
	case "slice":
		if len(parts) < 3 {
			return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("slice token for tag %s missing start index", tag))
		}
		start, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("slice token for tag %s has non-integer start: %v", tag, err))
		}
		hasEnd := false
		end := 0
		if len(parts) >= 4 {
			end, err = strconv.Atoi(parts[3])
			if err != nil {
				return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("slice token for tag %s has non-integer end: %v", tag, err))
			}
			hasEnd = true
		}
		return &tagToken{tag: tag, modifier: "slice", sliceStart: start, sliceEnd: end, sliceHasEnd: hasEnd}, nil
	case "offset":
		if len(parts) < 3 {
			return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("offset token for tag %s missing amount", tag))
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("offset token for tag %s has non-integer amount: %v", tag, err))
		}
		return &tagToken{tag: tag, modifier: "offset", offset: n}, nil
	default:
		return nil, spaxerrors.NewBadFrameList(fmt.Sprintf("unknown modifier %q for tag %s", parts[1], tag))
	}
}

type literalToken string

func (l literalToken) render(_ Context) (string, bool) { return string(l), true }

type nowToken struct {
	format              string
	years, months, days int
}

func (n *nowToken) render(ctx Context) (string, bool) {
	t := ctx.Now
	if n.years != 0 || n.months != 0 || n.days != 0 {
		t = t.AddDate(n.years, n.months, n.days)
	}
	return formatJavaLikeDate(t, n.format), true
}

type rndToken struct {
	kind string
}

func (r rndToken) render(_ Context) (string, bool) {
	switch r.kind {
	case "uuid":
		return uuid.NewString(), true
	case "uid":
		return randomUID(), true
	default:
		buf := make([]byte, 8)
		_, _ = rand.Read(buf)
		return hex.EncodeToString(buf), true
	}
}

// randomUID synthesizes a DICOM-style UID using the 2.25 UUID-derived root
// (PS3.5 Annex B): "2.25." followed by the decimal form of a random UUID.
func randomUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

type tagToken struct {
	tag         string
	modifier    string
	sliceStart  int
	sliceEnd    int
	sliceHasEnd bool
	offset      int
}

func (tt *tagToken) render(ctx Context) (string, bool) {
	value, present := "", false
	if ctx.Tags != nil {
		value, present = ctx.Tags(tt.tag)
	}

	switch tt.modifier {
	case "raw", "upper":
		if !present {
			return "", true
		}
		if tt.modifier == "upper" {
			return strings.ToUpper(value), true
		}
		return value, true
	case "hash":
		if !present {
			return "", false
		}
		return fmt.Sprintf("%08x", uint32(javaStringHashCode(value))), true
	case "md5":
		if !present {
			return "", false
		}
		sum := md5.Sum([]byte(value))
		return base32Encoding.EncodeToString(sum[:]), true
	case "urlencoded":
		if !present {
			return "", false
		}
		return url.QueryEscape(value), true
	case "number":
		if !present {
			return "0", true
		}
		return value, true
	case "offset":
		if !present {
			return "0", true
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return "0", true
		}
		return strconv.Itoa(n + tt.offset), true
	case "slice":
		if !present {
			return "", true
		}
		return sliceString(value, tt.sliceStart, tt.sliceEnd, tt.sliceHasEnd), true
	default:
		return "", true
	}
}

// sliceString implements the negative-index substring semantics spec.md
// §4.3 requires: negative start/end count from the end of the string.
func sliceString(s string, start, end int, hasEnd bool) string {
	r := []rune(s)
	n := len(r)

	norm := func(i int) int {
		if i < 0 {
			i = n + i
		}
		if i < 0 {
			i = 0
		}
		if i > n {
			i = n
		}
		return i
	}

	start = norm(start)
	stop := n
	if hasEnd {
		stop = norm(end)
	}
	if start > stop {
		return ""
	}
	return string(r[start:stop])
}

// javaStringHashCode reproduces java.lang.String#hashCode: s[0]*31^(n-1) +
// s[1]*31^(n-2) + ... + s[n-1], computed iteratively over UTF-16 code
// units as 32-bit signed arithmetic.
func javaStringHashCode(s string) int32 {
	var h int32
	for _, r := range utf16Units(s) {
		h = 31*h + int32(r)
	}
	return h
}

// utf16Units returns the UTF-16 code units of s, matching Java's char
// semantics for the basic multilingual plane values DICOM string fields
// use.
func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r <= 0xFFFF {
			units = append(units, uint16(r))
			continue
		}
		r -= 0x10000
		units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return units
}

// formatJavaLikeDate renders t using a SimpleDateFormat-style pattern
// (yyyy, MM, dd, HH, mm, ss); any other characters, including path
// separators, are copied through literally.
func formatJavaLikeDate(t time.Time, pattern string) string {
	replacer := strings.NewReplacer(
		"yyyy", fmt.Sprintf("%04d", t.Year()),
		"MM", fmt.Sprintf("%02d", int(t.Month())),
		"dd", fmt.Sprintf("%02d", t.Day()),
		"HH", fmt.Sprintf("%02d", t.Hour()),
		"mm", fmt.Sprintf("%02d", t.Minute()),
		"ss", fmt.Sprintf("%02d", t.Second()),
	)
	return replacer.Replace(pattern)
}

// parseISOPeriod parses a restricted ISO-8601 period of the form
// P[nY][nM][nD] (e.g. "P1M", "P1Y6M", "P10D").
func parseISOPeriod(period string) (years, months, days int, err error) {
	if len(period) == 0 || period[0] != 'P' {
		return 0, 0, 0, spaxerrors.NewBadFrameList(fmt.Sprintf("invalid ISO-8601 period %q", period))
	}
	rest := period[1:]
	var num strings.Builder
	for _, c := range rest {
		switch {
		case c >= '0' && c <= '9':
			num.WriteRune(c)
		case c == 'Y' || c == 'M' || c == 'D':
			if num.Len() == 0 {
				return 0, 0, 0, spaxerrors.NewBadFrameList(fmt.Sprintf("invalid ISO-8601 period %q", period))
			}
			n, convErr := strconv.Atoi(num.String())
			if convErr != nil {
				return 0, 0, 0, spaxerrors.NewBadFrameList(fmt.Sprintf("invalid ISO-8601 period %q", period))
			}
			switch c {
			case 'Y':
				years = n
			case 'M':
				months = n
			case 'D':
				days = n
			}
			num.Reset()
		default:
			return 0, 0, 0, spaxerrors.NewBadFrameList(fmt.Sprintf("invalid ISO-8601 period %q", period))
		}
	}
	return years, months, days, nil
}
