package email

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeAddresses_Empty(t *testing.T) {
	t.Parallel()

	if got := NormalizeAddresses(nil); got != "" {
		t.Errorf("nil list: got %q, want empty", got)
	}
	if got := NormalizeAddresses([]Address{}); got != "" {
		t.Errorf("empty list: got %q, want empty", got)
	}
	if got := NormalizeAddress(Address{}); got != "" {
		t.Errorf("zero address: got %q, want empty", got)
	}
}

func TestNormalizeAddress_RawReturnedAsIs(t *testing.T) {
	t.Parallel()

	raw := "Alice <alice@example.com>, bob@example.com"
	if got := NormalizeAddress(Addr(raw)); got != raw {
		t.Errorf("got %q, want %q", got, raw)
	}
	if got := NormalizeAddresses([]Address{Addr(raw)}); got != raw {
		t.Errorf("single-entry list: got %q, want %q", got, raw)
	}
}

func TestNormalizeAddress_Structured(t *testing.T) {
	t.Parallel()

	if got := NormalizeAddress(NamedAddr("Alice", "alice@example.com")); got != "alice@example.com" {
		t.Errorf("got %q, want %q", got, "alice@example.com")
	}
	if got := NormalizeAddress(NamedAddr("Nobody", "")); got != "" {
		t.Errorf("structured without address: got %q, want empty", got)
	}
}

func TestNormalizeAddresses_MixedList(t *testing.T) {
	t.Parallel()

	list := []Address{
		Addr("a@x.com"),
		{Address: "b@x.com"},
		Addr(""),
		{},
	}

	if got := NormalizeAddresses(list); got != "a@x.com,b@x.com" {
		t.Errorf("got %q, want %q", got, "a@x.com,b@x.com")
	}
}

func TestNormalizeAddresses_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := [][]Address{
		Addrs("a@x.com"),
		Addrs("a@x.com", "b@x.com"),
		{NamedAddr("A", "a@x.com"), Addr("Bee <b@x.com>")},
		{},
	}

	for _, in := range inputs {
		once := NormalizeAddresses(in)
		twice := NormalizeAddresses([]Address{Addr(once)})
		if once != twice {
			t.Errorf("normalize not idempotent: %q then %q", once, twice)
		}
	}
}

func TestSplitRecipients(t *testing.T) {
	t.Parallel()

	got := SplitRecipients(" a@x.com , ,b@x.com,")
	want := []string{"a@x.com", "b@x.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	empty := SplitRecipients("")
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty input: got %#v, want empty non-nil slice", empty)
	}
}

func TestParseAddresses(t *testing.T) {
	t.Parallel()

	got, err := ParseAddresses([]Address{
		Addr("Alice <alice@example.com>, bob@example.com"),
		NamedAddr("Carol", "carol@example.com"),
		{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("count: got %d, want 3", len(got))
	}
	if got[0].Name != "Alice" || got[0].Address != "alice@example.com" {
		t.Errorf("[0]: got %v", got[0])
	}
	if got[1].Address != "bob@example.com" {
		t.Errorf("[1]: got %q, want %q", got[1].Address, "bob@example.com")
	}
	if got[2].Name != "Carol" || got[2].Address != "carol@example.com" {
		t.Errorf("[2]: got %v", got[2])
	}
}

func TestParseAddresses_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := ParseAddresses(Addrs("not an address")); err == nil {
		t.Fatal("expected error for invalid address, got nil")
	}
}

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	msg := &Message{
		From: Addr("Sender <sender@example.com>"),
		To:   Addrs("a@x.com"),
		Cc:   []Address{NamedAddr("B", "b@x.com")},
		Bcc:  Addrs("c@x.com"),
	}

	env, err := BuildEnvelope(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", env.From, "sender@example.com")
	}
	want := []string{"a@x.com", "b@x.com", "c@x.com"}
	if !reflect.DeepEqual(env.To, want) {
		t.Errorf("To: got %v, want %v", env.To, want)
	}
}

func TestNewMessageID(t *testing.T) {
	t.Parallel()

	id := NewMessageID("noreply@example.com")
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@example.com>") {
		t.Errorf("got %q, want <...@example.com>", id)
	}
	if other := NewMessageID("noreply@example.com"); other == id {
		t.Errorf("expected unique ids, got %q twice", id)
	}
	if id := NewMessageID(""); !strings.HasSuffix(id, "@localhost>") {
		t.Errorf("empty sender: got %q, want @localhost suffix", id)
	}
}
