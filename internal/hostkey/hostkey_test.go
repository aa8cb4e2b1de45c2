package hostkey_test

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"sshexecd/internal/hostkey"
)

func TestRoundTrip(t *testing.T) {
	for i := 0; i < 10; i++ {
		pair, err := hostkey.Generate(hostkey.AlgoED25519)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		parsed, err := hostkey.Parse(pair.Serialize())
		if err != nil {
			t.Fatalf("parse(serialize): %v", err)
		}
		want := string(ssh.MarshalAuthorizedKey(pair.PublicKey()))
		got := string(ssh.MarshalAuthorizedKey(parsed.PublicKey()))
		if got != want {
			t.Fatalf("public key changed across round trip:\ngot  %s\nwant %s", got, want)
		}
	}
}

func TestSerializeComment(t *testing.T) {
	pair, err := hostkey.Generate(hostkey.AlgoED25519)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parsed, err := hostkey.Parse(pair.Serialize() + " host identity")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Comment() != "host identity" {
		t.Errorf("comment = %q, want %q", parsed.Comment(), "host identity")
	}
	if !strings.HasSuffix(parsed.Serialize(), " host identity") {
		t.Errorf("serialized form lost the comment: %q", parsed.Serialize())
	}
}

func TestParseFailures(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString(make([]byte, 64))
	data := []struct {
		Name string
		Line string
	}{
		{Name: "empty", Line: ""},
		{Name: "one token", Line: "ssh-ed25519"},
		{Name: "bad base64", Line: "ssh-ed25519 %%%not-base64%%%"},
		{Name: "unknown algorithm", Line: "ssh-rsa " + valid},
		{Name: "short material", Line: "ssh-ed25519 " + base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, d := range data {
		t.Run(d.Name, func(t *testing.T) {
			if _, err := hostkey.Parse(d.Line); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", d.Line)
			}
		})
	}
}

func TestParseUnknownAlgorithmSentinel(t *testing.T) {
	_, err := hostkey.Parse("ecdsa-sha2-nistp256 AAAA")
	if !errors.Is(err, hostkey.ErrUnknownAlgorithm) {
		t.Fatalf("err = %v, want ErrUnknownAlgorithm", err)
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")

	created, err := hostkey.LoadOrCreate(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loaded, err := hostkey.LoadOrCreate(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := string(ssh.MarshalAuthorizedKey(created.PublicKey()))
	got := string(ssh.MarshalAuthorizedKey(loaded.PublicKey()))
	if got != want {
		t.Fatalf("reloaded key differs:\ngot  %s\nwant %s", got, want)
	}
}

func TestMatches(t *testing.T) {
	pair, err := hostkey.Generate(hostkey.AlgoED25519)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, err := hostkey.Generate(hostkey.AlgoED25519)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pair.PublicKey())))

	data := []struct {
		Name string
		Line string
		Want bool
	}{
		{Name: "exact match", Line: line, Want: true},
		{Name: "match with comment", Line: line + " ops@console", Want: true},
		{Name: "different key", Line: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(other.PublicKey()))), Want: false},
		{Name: "missing key field", Line: "ssh-ed25519", Want: false},
		{Name: "garbage", Line: "not an authorized key at all", Want: false},
		{Name: "empty", Line: "", Want: false},
	}
	for _, d := range data {
		t.Run(d.Name, func(t *testing.T) {
			if got := hostkey.Matches(pair.PublicKey(), d.Line); got != d.Want {
				t.Errorf("Matches(%q) = %v, want %v", d.Line, got, d.Want)
			}
		})
	}
}

func TestIsPresent(t *testing.T) {
	pair, err := hostkey.Generate(hostkey.AlgoED25519)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, err := hostkey.Generate(hostkey.AlgoED25519)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	mine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pair.PublicKey())))
	theirs := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(other.PublicKey())))

	data := []struct {
		Name     string
		Contents string
		Want     bool
	}{
		{Name: "empty file", Contents: "", Want: false},
		{Name: "only others", Contents: theirs + "\n", Want: false},
		{Name: "single entry", Contents: mine + "\n", Want: true},
		{Name: "second entry with padding", Contents: theirs + "\n  " + mine + "  \n", Want: true},
		{Name: "blank and malformed lines", Contents: "\n\nnot-a-key\n" + mine, Want: true},
	}
	for _, d := range data {
		t.Run(d.Name, func(t *testing.T) {
			if got := hostkey.IsPresent(pair.PublicKey(), d.Contents); got != d.Want {
				t.Errorf("IsPresent = %v, want %v", got, d.Want)
			}
		})
	}
}
