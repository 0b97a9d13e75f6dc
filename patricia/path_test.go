package patricia

import "testing"

func TestPathCommonPrefixLen(t *testing.T) {
	a, _ := PathFromUint64(0b1011, 4)
	b, _ := PathFromUint64(0b1001, 4)
	if got := a.CommonPrefixLen(b); got != 2 {
		t.Fatalf("common prefix len = %d, want 2", got)
	}
}

func TestPathHasPrefix(t *testing.T) {
	full, _ := PathFromUint64(0b1011, 4)
	prefix, _ := PathFromUint64(0b10, 2)
	if !full.HasPrefix(prefix) {
		t.Fatal("expected full to have prefix")
	}
	other, _ := PathFromUint64(0b11, 2)
	if full.HasPrefix(other) {
		t.Fatal("did not expect full to have a mismatching prefix")
	}
}

func TestPathTrimAndPrefix(t *testing.T) {
	full, _ := PathFromUint64(0b1011, 4)
	rest := full.TrimPrefix(2)
	want, _ := PathFromUint64(0b11, 2)
	if !rest.Equal(want) {
		t.Fatalf("TrimPrefix(2) = %v, want %v", rest, want)
	}
	head := full.Prefix(2)
	wantHead, _ := PathFromUint64(0b10, 2)
	if !head.Equal(wantHead) {
		t.Fatalf("Prefix(2) = %v, want %v", head, wantHead)
	}
}

func TestPathPrependAndAppendBit(t *testing.T) {
	p, _ := PathFromUint64(0b01, 2)
	prepended := p.PrependBit(true)
	want, _ := PathFromUint64(0b101, 3)
	if !prepended.Equal(want) {
		t.Fatalf("PrependBit(true) = %v, want %v", prepended, want)
	}
	appended := p.AppendBit(true)
	want2, _ := PathFromUint64(0b011, 3)
	if !appended.Equal(want2) {
		t.Fatalf("AppendBit(true) = %v, want %v", appended, want2)
	}
}

func TestPathAppend(t *testing.T) {
	a, _ := PathFromUint64(0b10, 2)
	b, _ := PathFromUint64(0b011, 3)
	got := a.Append(b)
	want, _ := PathFromUint64(0b10011, 5)
	if !got.Equal(want) {
		t.Fatalf("Append = %v, want %v", got, want)
	}
}

func TestPathPackedRoundTrip(t *testing.T) {
	p, _ := PathFromUint64(0b10110, 5)
	packed := p.Packed()
	back, err := PathFromPacked(5, packed)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(p) {
		t.Fatalf("round trip = %v, want %v", back, p)
	}
}

func TestPathFromUint64RejectsOversizedHeight(t *testing.T) {
	if _, err := PathFromUint64(0, 65); err == nil {
		t.Fatal("expected error for height > 64")
	}
}
