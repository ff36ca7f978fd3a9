package ota

import (
	"strings"
	"testing"

	"foxco2-go/errcode"
)

const secret = "s3cret"

func TestParseRequestOrder(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		declared int
		want     errcode.Code
	}{
		{"too large body", "updatepw=" + strings.Repeat("x", MaxRequestSize), -1, errcode.RequestTooLarge},
		{"too large declared", "updatepw=s3cret", MaxRequestSize + 1, errcode.RequestTooLarge},
		{"incomplete", "updatepw=s3cret", 40, errcode.IncompleteBody},
		{"missing password", "updateurl=https%3A%2F%2Fh%2Ffw.bin", -1, errcode.MissingField},
		{"missing password with garbage url", "updateurl=::::", -1, errcode.MissingField},
		{"wrong password", "updatepw=nope&updateurl=https%3A%2F%2Fh%2Ffw.bin", -1, errcode.Unauthorized},
		{"wrong password no url", "updatepw=nope", -1, errcode.Unauthorized},
		{"missing url", "updatepw=s3cret", -1, errcode.MissingField},
		{"ok", "updatepw=s3cret&updateurl=https%3A%2F%2Fh%2Ffw.bin", -1, errcode.OK},
		{"malformed url passes", "updatepw=s3cret&updateurl=not a url", -1, errcode.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			declared := tt.declared
			if declared == -1 {
				declared = len(tt.body)
			}
			_, err := ParseRequest([]byte(tt.body), declared, secret)
			if got := errcode.Of(err); got != tt.want {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestParseRequestMissingFieldNamesField(t *testing.T) {
	_, err := ParseRequest([]byte("updatepw=s3cret"), -1, secret)
	if !strings.Contains(errcode.Message(err), FieldURL) {
		t.Fatalf("message %q does not name %s", errcode.Message(err), FieldURL)
	}
	_, err = ParseRequest([]byte("updateurl=x"), -1, secret)
	if !strings.Contains(errcode.Message(err), FieldPassword) {
		t.Fatalf("message %q does not name %s", errcode.Message(err), FieldPassword)
	}
}

func TestParseRequestEmptySecretRejects(t *testing.T) {
	_, err := ParseRequest([]byte("updatepw=&updateurl=x"), -1, "")
	if errcode.Of(err) != errcode.Unauthorized {
		t.Fatalf("code = %v, want unauthorized", errcode.Of(err))
	}
}

func TestParseRequestDecodesURL(t *testing.T) {
	body := "updateurl=https%3A%2F%2Fexample.org%2Ffw.bin%3Fa%3D1%26b%3D2&updatepw=p%26w"
	req, err := ParseRequest([]byte(body), len(body), "p&w")
	if err != nil {
		t.Fatal(err)
	}
	if req.TargetURL != "https://example.org/fw.bin?a=1&b=2" {
		t.Fatalf("url = %q", req.TargetURL)
	}
	if req.Credential != "p&w" {
		t.Fatalf("credential = %q", req.Credential)
	}
}

func TestFormValueAmpEntity(t *testing.T) {
	form := "updateurl=https://h/x?a=1&amp;b=2&updatepw=a+b"
	u, ok := formValue(form, FieldURL)
	if !ok || u != "https://h/x?a=1&b=2" {
		t.Fatalf("url = %q, %v", u, ok)
	}
	pw, ok := formValue(form, FieldPassword)
	if !ok || pw != "a b" {
		t.Fatalf("pw = %q, %v", pw, ok)
	}
}

func TestFormValueNoPrefixMatch(t *testing.T) {
	if _, ok := formValue("xupdatepw=1", FieldPassword); ok {
		t.Fatal("matched a field name suffix")
	}
	if v, ok := formValue("a=1&updatepw=", FieldPassword); !ok || v != "" {
		t.Fatalf("empty value = %q, %v", v, ok)
	}
}

func TestDecodeValue(t *testing.T) {
	tests := map[string]string{
		"https%3A%2F%2Fh": "https://h",
		"%3a%2f":          ":/",
		"a%26b":           "a&b",
		"a&amp;b":         "a&b",
		"100%":            "100%",
		"%zz":             "%zz",
		"x+y":             "x y",
		"plain":           "plain",
	}
	for in, want := range tests {
		if got := decodeValue(in); got != want {
			t.Errorf("decodeValue(%q) = %q, want %q", in, got, want)
		}
	}
}
