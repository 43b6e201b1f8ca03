package cryptox_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaydata/stripebridge/pkg/cryptox"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newCipher(t *testing.T) *cryptox.Cipher {
	t.Helper()
	c, err := cryptox.New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newCipher(t)

	for _, plaintext := range []string{"", "a", "sk_test_secret_value", strings.Repeat("x", 4096)} {
		blob, err := c.Encrypt([]byte(plaintext))
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := c.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plaintext, err)
		}
		if string(got) != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	c := newCipher(t)

	blob, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var env struct {
		V    int    `json:"v"`
		IV   string `json:"iv"`
		Data string `json:"data"`
		Tag  string `json:"tag"`
	}
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.V != 1 {
		t.Fatalf("envelope version = %d, want 1", env.V)
	}
	if env.IV == "" || env.Data == "" || env.Tag == "" {
		t.Fatalf("envelope missing fields: %+v", env)
	}
}

func TestEncryptProducesFreshIV(t *testing.T) {
	c := newCipher(t)

	a, _ := c.Encrypt([]byte("same"))
	b, _ := c.Encrypt([]byte("same"))
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := newCipher(t)

	blob, err := c.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Flip one character of the base64 data segment.
	var env map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data := env["data"].(string)
	flipped := "A"
	if strings.HasPrefix(data, "A") {
		flipped = "B"
	}
	env["data"] = flipped + data[1:]
	tampered, _ := json.Marshal(env)

	if _, err := c.Decrypt(string(tampered)); err != cryptox.ErrCorrupt {
		t.Fatalf("Decrypt of tampered blob: got %v, want ErrCorrupt", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c := newCipher(t)

	cases := []string{
		"",
		"not json",
		`{"v":2,"iv":"","data":"","tag":""}`,
		`{"v":1,"iv":"short","data":"x","tag":"y"}`,
		`{"v":1,"iv":"AAAAAAAAAAAAAAAA","data":"AAAA","tag":"AAAA"}`,
	}
	for _, blob := range cases {
		if _, err := c.Decrypt(blob); err != cryptox.ErrCorrupt {
			t.Fatalf("Decrypt(%q): got %v, want ErrCorrupt", blob, err)
		}
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "abcd", "zz" + testKey[2:], testKey + "00"} {
		if _, err := cryptox.New(key); err != cryptox.ErrBadKey {
			t.Fatalf("New(%q): got %v, want ErrBadKey", key, err)
		}
	}
}

func TestDigestIsStableHex(t *testing.T) {
	d := cryptox.Digest("state-nonce")
	if len(d) != 64 {
		t.Fatalf("digest length = %d, want 64", len(d))
	}
	if d != cryptox.Digest("state-nonce") {
		t.Fatal("digest is not deterministic")
	}
	if d == cryptox.Digest("other") {
		t.Fatal("distinct inputs produced the same digest")
	}
}

func TestRandomToken(t *testing.T) {
	a, err := cryptox.RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(a))
	}
	b, _ := cryptox.RandomToken(32)
	if a == b {
		t.Fatal("two tokens are identical")
	}
}

func TestRandomPasswordAlphabet(t *testing.T) {
	pw, err := cryptox.RandomPassword(24)
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if len(pw) != 24 {
		t.Fatalf("password length = %d, want 24", len(pw))
	}
	for _, r := range pw {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			t.Fatalf("password contains non-alphanumeric %q", r)
		}
	}
}
