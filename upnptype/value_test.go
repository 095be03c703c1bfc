package upnptype

import "testing"

func TestParseToWireRoundTrip(t *testing.T) {
	cases := []struct {
		typ Type
		in  string
	}{
		{UI1, "255"},
		{I4, "-12345"},
		{R4, "3.5"},
		{R8, "-0.125"},
		{Boolean, "1"},
		{String, "hello world"},
		{BinHex, "deadbeef"},
		{BinBase64, "aGVsbG8="},
		{UUID, "2fac1234-31f8-11b4-a222-08002b34c003"},
	}
	for _, c := range cases {
		v, err := Parse(c.in, c.typ)
		if err != nil {
			t.Fatalf("Parse(%q, %s): %v", c.in, c.typ, err)
		}
		if got := ToWire(v); got != c.in {
			t.Errorf("ToWire(Parse(%q, %s)) = %q, want %q", c.in, c.typ, got, c.in)
		}
	}
}

func TestParseBooleanAliases(t *testing.T) {
	for _, in := range []string{"true", "TRUE", "yes", "YES", "1"} {
		v, err := Parse(in, Boolean)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if b, _ := v.Bool(); !b {
			t.Errorf("Parse(%q) = false, want true", in)
		}
		if ToWire(v) != "1" {
			t.Errorf("ToWire(Parse(%q)) = %q, want %q", in, ToWire(v), "1")
		}
	}
	for _, in := range []string{"false", "FALSE", "no", "0"} {
		v, err := Parse(in, Boolean)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if b, _ := v.Bool(); b {
			t.Errorf("Parse(%q) = true, want false", in)
		}
	}
	if _, err := Parse("maybe", Boolean); err == nil {
		t.Error("Parse(\"maybe\", Boolean) succeeded, want error")
	}
}

func TestParseIntegerOverflow(t *testing.T) {
	if _, err := Parse("256", UI1); err == nil {
		t.Error("Parse(\"256\", UI1) succeeded, want overflow error")
	}
	if _, err := Parse("-1", UI1); err == nil {
		t.Error("Parse(\"-1\", UI1) succeeded, want error (unsigned)")
	}
}

func TestBinHexAndBinBase64AreDistinct(t *testing.T) {
	hex, err := Parse("68656c6c6f", BinHex)
	if err != nil {
		t.Fatalf("Parse bin.hex: %v", err)
	}
	b64, err := Parse("aGVsbG8=", BinBase64)
	if err != nil {
		t.Fatalf("Parse bin.base64: %v", err)
	}
	if hex.Type() == b64.Type() {
		t.Fatal("bin.hex and bin.base64 mapped to the same Type")
	}
	hb, ok := hex.Bytes()
	if !ok || string(hb) != "hello" {
		t.Errorf("bin.hex decode = %q, %v, want \"hello\", true", hb, ok)
	}
	b64b, ok := b64.Bytes()
	if !ok || string(b64b) != "hello" {
		t.Errorf("bin.base64 decode = %q, %v, want \"hello\", true", b64b, ok)
	}
}

func TestParseTypeUnknownDefaultsToString(t *testing.T) {
	if got := ParseType("some-vendor-extension"); got != String {
		t.Errorf("ParseType(unknown) = %s, want string", got)
	}
}

func TestCast(t *testing.T) {
	v, _ := Parse("42", I4)
	casted, err := Cast(v, String)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if ToWire(casted) != "42" {
		t.Errorf("Cast(i4, string) = %q, want \"42\"", ToWire(casted))
	}
}

func TestInRangeWithStep(t *testing.T) {
	min, _ := Parse("0", UI1)
	max, _ := Parse("100", UI1)
	step, _ := Parse("10", UI1)
	r, err := NewRange(UI1, min, max, step)
	if err != nil {
		t.Fatalf("NewRange: %v", err)
	}
	ok, _ := Parse("50", UI1)
	if !InRange(ok, r) {
		t.Error("50 should be in range [0,100] step 10")
	}
	bad, _ := Parse("105", UI1)
	if InRange(bad, r) {
		t.Error("105 should be out of range [0,100] step 10")
	}
}

func TestCmpNumeric(t *testing.T) {
	a, _ := Parse("5", I4)
	b, _ := Parse("10", I4)
	if Cmp(a, b) >= 0 {
		t.Error("Cmp(5, 10) should be negative")
	}
}
