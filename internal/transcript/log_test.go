package transcript

import (
	"testing"
)

func TestLog_AppendsInArrivalOrder(t *testing.T) {
	l := NewLog()
	// Three remote fragments interleaved with two local ones.
	l.Append(RoleRemote, "Tell me about yourself.")
	l.Append(RoleLocal, "Sure, I'm a backend engineer.")
	l.Append(RoleRemote, "What languages do you use?")
	l.Append(RoleLocal, "Mostly Go.")
	l.Append(RoleRemote, "Great, let's dig in.")

	msgs := l.Messages()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	wantRoles := []Role{RoleRemote, RoleLocal, RoleRemote, RoleLocal, RoleRemote}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Fatalf("message %d role: got %s want %s", i, m.Role, wantRoles[i])
		}
		if m.Text == "" || m.Timestamp.IsZero() {
			t.Fatalf("message %d missing text or timestamp", i)
		}
	}
}

func TestLog_PartialsNeverCommitted(t *testing.T) {
	l := NewLog()
	l.SetPartial(RoleRemote, "What lang")
	l.SetPartial(RoleRemote, "What languages do")
	if got := l.Partial(RoleRemote); got != "What languages do" {
		t.Fatalf("partial: got %q", got)
	}
	if l.Len() != 0 {
		t.Fatalf("partials must not enter the log")
	}
	l.Append(RoleRemote, "What languages do you use?")
	if got := l.Partial(RoleRemote); got != "" {
		t.Fatalf("append must clear the role's partial, got %q", got)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 committed message, got %d", l.Len())
	}
}

func TestLog_EmptyFragmentsDropped(t *testing.T) {
	l := NewLog()
	if l.Append(RoleLocal, "   ") {
		t.Fatalf("whitespace-only fragment must not append")
	}
	if l.Append(RoleLocal, "") {
		t.Fatalf("empty fragment must not append")
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty log, got %d", l.Len())
	}
}

func TestLog_AppendOnlyPrefixExtension(t *testing.T) {
	l := NewLog()
	l.Append(RoleLocal, "one")
	l.Append(RoleRemote, "two")
	before := l.Messages()
	l.Append(RoleLocal, "three")
	after := l.Messages()
	if len(after) != len(before)+1 {
		t.Fatalf("expected one more message")
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("prefix violated at %d", i)
		}
	}
}

func TestLog_SeedOnlyBeforeFirstAppend(t *testing.T) {
	l := NewLog()
	seed := []Message{{Role: RoleLocal, Text: "hello"}, {Role: RoleRemote, Text: "hi"}}
	l.Seed(seed)
	if l.Len() != 2 {
		t.Fatalf("seed should install prior messages, got %d", l.Len())
	}
	l.Append(RoleLocal, "new")
	l.Seed([]Message{{Role: RoleLocal, Text: "other"}})
	msgs := l.Messages()
	if len(msgs) != 3 || msgs[2].Text != "new" {
		t.Fatalf("seed after append must be a no-op, got %v", msgs)
	}
}
