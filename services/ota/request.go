package ota

import (
	"crypto/subtle"
	"strings"

	"foxco2-go/errcode"
)

const (
	// MaxRequestSize bounds the encoded update form.
	MaxRequestSize = 600

	FieldPassword = "updatepw"
	FieldURL      = "updateurl"
)

// Request is a validated update request.
type Request struct {
	TargetURL  string
	Credential string
}

// ParseRequest validates an encoded update form against secret. declared is
// the length the client announced (Content-Length), or -1 when unknown.
//
// Checks run in a fixed order: size, completeness, password presence,
// password match, URL presence. The URL itself is not inspected here; a
// malformed URL fails at the fetch stage.
func ParseRequest(body []byte, declared int, secret string) (Request, error) {
	const op = "ota.parse"
	if declared > MaxRequestSize || len(body) > MaxRequestSize {
		return Request{}, errcode.New(errcode.RequestTooLarge, op, "request too large")
	}
	if declared >= 0 && len(body) < declared {
		return Request{}, errcode.New(errcode.IncompleteBody, op, "incomplete request body")
	}

	form := string(body)
	pw, ok := formValue(form, FieldPassword)
	if !ok {
		return Request{}, errcode.New(errcode.MissingField, op, "missing field "+FieldPassword)
	}
	if secret == "" || subtle.ConstantTimeCompare([]byte(pw), []byte(secret)) != 1 {
		return Request{}, errcode.New(errcode.Unauthorized, op, "wrong update password")
	}
	u, ok := formValue(form, FieldURL)
	if !ok {
		return Request{}, errcode.New(errcode.MissingField, op, "missing field "+FieldURL)
	}
	return Request{TargetURL: u, Credential: pw}, nil
}

// formValue finds name=value in an urlencoded form and returns the decoded
// value. A value ends at the next '&' that does not start an "&amp;" entity,
// so browsers that HTML-escape the separator inside a value still work.
func formValue(form, name string) (string, bool) {
	key := name + "="
	for i := 0; i < len(form); {
		if strings.HasPrefix(form[i:], key) {
			start := i + len(key)
			end := valueEnd(form, start)
			return decodeValue(form[start:end]), true
		}
		next := valueEnd(form, i)
		if next >= len(form) {
			break
		}
		i = next + 1
	}
	return "", false
}

func valueEnd(form string, from int) int {
	for j := from; j < len(form); j++ {
		if form[j] == '&' && !strings.HasPrefix(form[j:], "&amp;") {
			return j
		}
	}
	return len(form)
}

// decodeValue undoes form encoding: '+' is a space, %XX is a byte and
// "&amp;" is '&'. Malformed escapes are kept literally.
func decodeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case c == '&' && strings.HasPrefix(s[i:], "&amp;"):
			b.WriteByte('&')
			i += len("&amp;") - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
