package ir

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func testID(b byte) ContentID {
	var id ContentID
	for i := range id {
		id[i] = b
	}
	return id
}

func sampleFragments() []Fragment {
	return []Fragment{
		Page{Size: Size{W: 595, H: 842}, Items: []Placement{Translate(72, 72, testID(1))}},
		Page{Size: Size{W: 100, H: 100}, Background: testID(9)},
		Group{Box: Rect{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}, Clip: true, Items: []Placement{
			{Transform: Affine{A: 2, B: 0.5, C: 3, D: -1, E: 2, F: 7}, Child: testID(2)},
			Translate(0, 10, testID(2)),
		}},
		GlyphRun{
			Font:   testID(3),
			Paint:  testID(4),
			Text:   testID(5),
			Size:   12,
			Glyphs: []GlyphPos{{Glyph: testID(6), X: 0}, {Glyph: testID(7), X: 6.5}},
			Box:    Rect{MinY: -10, MaxX: 13, MaxY: 3},
		},
		GlyphRun{Font: testID(3), Size: 10},
		Glyph{Outline: "M0 0 L10 0 L10 -10 Z", Advance: 600, Box: Rect{MinY: -10, MaxX: 10}},
		Font{Family: "Go Regular", UnitsPerEm: 2048, Ascender: 1900, Descender: 500},
		Path{Data: "M0 0 L100 0", Paint: testID(8), Box: Rect{MaxX: 100}},
		Path{Data: "M0 0 L1 1"},
		Paint{Fill: RGB(10, 20, 30), Stroke: Color{1, 2, 3, 4}, StrokeWidth: 1.5, Rule: FillEvenOdd},
		Text{Content: "héllo", Lang: "fr"},
		Snapshot{
			Meta:  Meta{Title: "t", Language: "en", Author: "a"},
			Pages: []PageRef{{ID: testID(1), Size: Size{W: 10, H: 20}}},
		},
		Snapshot{},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, f := range sampleFragments() {
		t.Run(f.Kind().String(), func(t *testing.T) {
			payload := Encode(f)
			got, err := Decode(f.Kind(), payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(Encode(got), payload) {
				t.Errorf("re-encoding differs:\n got %x\nwant %x", Encode(got), payload)
			}
			if ID(got) != ID(f) {
				t.Errorf("ID changed across round trip")
			}
			if !reflect.DeepEqual(got.Children(), f.Children()) {
				t.Errorf("Children() = %v, want %v", got.Children(), f.Children())
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	for _, f := range sampleFragments() {
		a, b := Encode(f), Encode(f)
		if !bytes.Equal(a, b) {
			t.Errorf("%s: Encode not deterministic", f.Kind())
		}
	}
}

func TestIDSensitivity(t *testing.T) {
	a := Group{Items: []Placement{Translate(0, 0, testID(1)), Translate(0, 0, testID(2))}}
	b := Group{Items: []Placement{Translate(0, 0, testID(2)), Translate(0, 0, testID(1))}}
	if ID(a) == ID(b) {
		t.Error("child order must change the ContentID")
	}

	// Same payload bytes under different kinds must not collide.
	txt := Text{Content: "x"}
	if Hash(KindText, Encode(txt)) == Hash(KindGlyph, Encode(txt)) {
		t.Error("kind must be part of the ContentID")
	}

	if ID(Paint{Fill: Black}) != ID(SolidPaint(Black)) {
		t.Error("structurally equal fragments must share a ContentID")
	}
}

func TestDecodeErrors(t *testing.T) {
	badID := protowire.AppendTag(nil, fieldPathPaint, protowire.BytesType)
	badID = protowire.AppendBytes(badID, []byte{1, 2, 3})

	wrongType := protowire.AppendTag(nil, fieldGlyphAdvance, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 3)

	tests := []struct {
		name    string
		kind    Kind
		payload []byte
	}{
		{"unknown kind", Kind(0x7f), nil},
		{"truncated tag", KindText, []byte{0x0a}},
		{"truncated bytes", KindText, []byte{0x0a, 0x05, 'a'}},
		{"short content id", KindPath, badID},
		{"wrong wire type", KindGlyph, wrongType},
		{"run without font", KindGlyphRun, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, tt.payload)
			if !errors.Is(err, ErrMalformedFragment) {
				t.Errorf("Decode() error = %v, want ErrMalformedFragment", err)
			}
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	payload := Encode(Text{Content: "a", Lang: "en"})
	payload = protowire.AppendTag(payload, 99, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 42)

	f, err := Decode(KindText, payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := f.(Text); got.Content != "a" || got.Lang != "en" {
		t.Errorf("Decode() = %+v", got)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	s := Snapshot{Meta: Meta{Title: "doc"}, Pages: []PageRef{{ID: testID(3), Size: Size{W: 1, H: 2}}}}
	got, err := DecodeSnapshot(Encode(s))
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Errorf("DecodeSnapshot() = %+v, want %+v", got, s)
	}
	if _, err := DecodeSnapshot([]byte{0x22, 0x00}); !errors.Is(err, ErrMalformedFragment) {
		t.Errorf("page without id: error = %v", err)
	}
}

func TestContentIDString(t *testing.T) {
	id := Hash(KindText, []byte("abc"))
	s := id.String()
	if len(s) != 32 {
		t.Fatalf("String() length = %d, want 32", len(s))
	}
	parsed, err := ParseContentID(s)
	if err != nil {
		t.Fatalf("ParseContentID() error = %v", err)
	}
	if parsed != id {
		t.Error("ParseContentID(String()) != id")
	}
	if id.Short() != s[:12] {
		t.Errorf("Short() = %q", id.Short())
	}
	for _, bad := range []string{"", "zz", s[:30] + "zz"} {
		if _, err := ParseContentID(bad); err == nil {
			t.Errorf("ParseContentID(%q) should fail", bad)
		}
	}
}

func TestCanonicalLanguage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"en", "en"},
		{"EN-us", "en-US"},
		{" de ", "de"},
		{"not a tag!", "und"},
	}
	for _, tt := range tests {
		if got := CanonicalLanguage(tt.in); got != tt.want {
			t.Errorf("CanonicalLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewTextNormalizes(t *testing.T) {
	// "e" + combining acute and the precomposed form must share an identity.
	a := NewText("e\u0301", "en")
	b := NewText("\u00e9", "en")
	if ID(a) != ID(b) {
		t.Error("NFC normalization should unify equivalent text")
	}
}
