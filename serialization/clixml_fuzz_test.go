package serialization

import (
	"testing"
	"unicode/utf8"
)

func FuzzDeserializer(f *testing.F) {
	f.Add([]byte(`<Objs Version="1.1.0.1" xmlns="http://schemas.microsoft.com/powershell/2004/04"><S>test</S></Objs>`))
	f.Add([]byte(`<Objs Version="1.1.0.1" xmlns="http://schemas.microsoft.com/powershell/2004/04"><U32>123</U32></Objs>`))
	f.Add([]byte(`#< CLIXML` + "\r\n" + `<Objs><Obj RefId="0"><Props><S N="a">b</S></Props></Obj></Objs>`))
	f.Add([]byte("garbage data"))

	f.Fuzz(func(_ *testing.T, data []byte) {
		// Errors are expected for garbage input; panics are not.
		_, _ = NewDeserializer().Deserialize(data)
	})
}

func FuzzRoundTripString(f *testing.F) {
	f.Add("hello world")
	f.Add("")
	f.Add("<xml>stuff</xml>")
	f.Add("line1\r\nline2")
	f.Add("\x00null\x01byte")
	f.Add("_x000D_ literal")
	f.Add("\U0001F600 emoji")

	f.Fuzz(func(t *testing.T, s string) {
		if !utf8.ValidString(s) {
			return
		}
		// U+FFFE and U+FFFF are XML noncharacters the encoder passes through.
		for _, r := range s {
			if r == 0xFFFE || r == 0xFFFF {
				return
			}
		}

		data, err := NewSerializer().Serialize(s)
		if err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
		results, err := NewDeserializer().Deserialize(data)
		if err != nil {
			t.Fatalf("Deserialize failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if got, _ := results[0].(string); got != s {
			t.Errorf("RoundTrip mismatch: got %q, want %q", got, s)
		}
	})
}
