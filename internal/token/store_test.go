package token

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := tempStore(t)

	tok, err := s.Create("alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(tok.Token) != tokenLength {
		t.Errorf("token length = %d, want %d", len(tok.Token), tokenLength)
	}
	for _, r := range tok.Token {
		if !strings.ContainsRune(tokenCharset, r) {
			t.Fatalf("token contains unexpected rune %q", r)
		}
	}

	got, err := s.Get(tok.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Owner != "alice" || got.Expiry != nil {
		t.Errorf("Get = %+v", got)
	}
}

func TestCreateRejectsEmptyAndDuplicateOwner(t *testing.T) {
	s := tempStore(t)

	if _, err := s.Create("", nil); !errors.Is(err, ErrEmptyOwner) {
		t.Errorf("empty owner: err = %v", err)
	}
	if _, err := s.Create("bob", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("bob", nil); !errors.Is(err, ErrDuplicateOwner) {
		t.Errorf("duplicate owner: err = %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	s := tempStore(t)

	seen := map[string]bool{}
	for _, owner := range []string{"a", "b", "c", "d", "e"} {
		tok, err := s.Create(owner, nil)
		if err != nil {
			t.Fatalf("Create(%s): %v", owner, err)
		}
		if seen[tok.Token] {
			t.Fatalf("duplicate token issued: %s", tok.Token)
		}
		seen[tok.Token] = true
	}
}

func TestGenerateTokenIsUnbiased(t *testing.T) {
	// The first 256%62 charset entries are the ones a plain byte-modulo
	// mapping would over-select (5 byte values each instead of 4).
	overSampled := tokenCharset[:256%len(tokenCharset)]

	const rounds = 500
	var hits, total int
	for i := 0; i < rounds; i++ {
		tok := generateToken()
		if len(tok) != tokenLength {
			t.Fatalf("token length = %d, want %d", len(tok), tokenLength)
		}
		for _, r := range tok {
			if !strings.ContainsRune(tokenCharset, r) {
				t.Fatalf("token contains unexpected rune %q", r)
			}
			if strings.ContainsRune(overSampled, r) {
				hits++
			}
			total++
		}
	}

	// Uniform output puts these chars at 8/62 of the total; the modulo
	// mapping would land near 40/256. The sample cleanly separates them.
	want := float64(len(overSampled)) / float64(len(tokenCharset))
	got := float64(hits) / float64(total)
	if got > want+0.011 {
		t.Errorf("over-sampled chars at %.4f of output, want about %.4f", got, want)
	}
}

func TestRemove(t *testing.T) {
	s := tempStore(t)

	tok, err := s.Create("carol", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Remove(tok.Token); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(tok.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after remove: err = %v", err)
	}
	if err := s.Remove(tok.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("double remove: err = %v", err)
	}
}

func TestSetExpiry(t *testing.T) {
	s := tempStore(t)

	tok, err := s.Create("dave", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	exp := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SetExpiry(tok.Token, &exp); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	got, err := s.Get(tok.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Expiry == nil || !got.Expiry.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got.Expiry, exp)
	}

	if err := s.SetExpiry(tok.Token, nil); err != nil {
		t.Fatalf("SetExpiry clear: %v", err)
	}
	got, _ = s.Get(tok.Token)
	if got.Expiry != nil {
		t.Errorf("expiry not cleared: %v", got.Expiry)
	}

	if err := s.SetExpiry("no-such-token", &exp); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token: err = %v", err)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	s := tempStore(t)
	base := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
	current := base
	s.SetNowFunc(func() time.Time {
		current = current.Add(time.Minute)
		return current
	})

	for _, owner := range []string{"first", "second", "third"} {
		if _, err := s.Create(owner, nil); err != nil {
			t.Fatalf("Create(%s): %v", owner, err)
		}
	}

	tokens, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens", len(tokens))
	}
	if tokens[0].Owner != "first" || tokens[2].Owner != "third" {
		t.Errorf("order = %s, %s, %s", tokens[0].Owner, tokens[1].Owner, tokens[2].Owner)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	s := tempStore(t)

	tok, err := s.Create("erin", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	exp := time.Now().AddDate(0, 1, 0)
	if err := s.SetExpiry(tok.Token, &exp); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	if err := s.Remove(tok.Token); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	rows, err := s.db.Query(`SELECT action FROM audit_log ORDER BY at, id`)
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			t.Fatalf("scan: %v", err)
		}
		actions = append(actions, a)
	}
	want := []string{"create", "set_expiry", "remove"}
	if len(actions) != len(want) {
		t.Fatalf("audit rows = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("audit[%d] = %s, want %s", i, actions[i], want[i])
		}
	}
}

func TestStatusDerivation(t *testing.T) {
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	day := func(offset int) *time.Time {
		d := now.AddDate(0, 0, offset)
		return &d
	}

	cases := []struct {
		name   string
		expiry *time.Time
		want   Status
	}{
		{"no expiry", nil, StatusActive},
		{"yesterday", day(-1), StatusExpired},
		{"later today", func() *time.Time { d := now.Add(3 * time.Hour); return &d }(), StatusExpiresToday},
		{"in three days", day(3), StatusExpiresSoon},
		{"in thirty days", day(30), StatusActive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := Token{Token: "t", Owner: "o", Expiry: tc.expiry}
			if got := tok.Status(now, 7); got != tc.want {
				t.Errorf("Status = %s, want %s", got, tc.want)
			}
		})
	}
}
