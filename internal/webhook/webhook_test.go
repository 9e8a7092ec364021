package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/pipeline"
)

const secret = "s3cret"

type fakeSyncer struct {
	calls int
	res   *pipeline.Result
	err   error
}

func (f *fakeSyncer) Run(_ context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	f.calls++
	if opts.Trigger != "webhook" {
		return nil, errors.New("unexpected trigger " + opts.Trigger)
	}
	return f.res, f.err
}

func newGate(t *testing.T, s Syncer) *Gate {
	t.Helper()
	g, err := NewGate(secret, 1024, s, nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	got := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	want := "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	if err := Verify(secret, Sign(secret, body), body); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}
	if err := Verify(secret, strings.ToUpper(Sign(secret, body)[7:]), body); apperr.StatusOf(err) != http.StatusForbidden {
		t.Errorf("expected 403 for prefixless signature, got %v", err)
	}

	err := Verify(secret, "", body)
	if !apperr.Is(err, apperr.KindAuth) || apperr.StatusOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400 auth error, got %v", err)
	}

	tampered := append([]byte{}, body...)
	tampered[2] = 'R'
	err = Verify(secret, Sign(secret, body), tampered)
	if !apperr.Is(err, apperr.KindAuth) || apperr.StatusOf(err) != http.StatusForbidden {
		t.Errorf("expected 403 for tampered body, got %v", err)
	}

	if err := Verify("other", Sign(secret, body), body); apperr.StatusOf(err) != http.StatusForbidden {
		t.Errorf("expected 403 for wrong secret, got %v", err)
	}
}

func TestHandleRunsSync(t *testing.T) {
	s := &fakeSyncer{res: &pipeline.Result{
		RunID: "run-1", Records: 7, Languages: []string{"hausa", "yoruba"}, State: pipeline.StateCommitted,
	}}
	g := newGate(t, s)
	body := SamplePush("refs/heads/main", "org/voice")

	resp, err := g.Handle(context.Background(), Sign(secret, body), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Message != "Update successful" || resp.TotalAnnotators != 7 || len(resp.Languages) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.State != "committed" {
		t.Errorf("expected committed, got %s", resp.State)
	}
}

func TestHandleRejectsBeforeSync(t *testing.T) {
	s := &fakeSyncer{}
	g := newGate(t, s)
	body := SamplePush("refs/heads/main", "org/voice")

	cases := []struct {
		name      string
		signature string
		body      []byte
		status    int
	}{
		{"missing signature", "", body, http.StatusBadRequest},
		{"bad signature", Sign("nope", body), body, http.StatusForbidden},
		{"not json", Sign(secret, []byte("hi")), []byte("hi"), http.StatusBadRequest},
		{"no ref", Sign(secret, []byte(`{"pusher":{}}`)), []byte(`{"pusher":{}}`), http.StatusBadRequest},
		{"too large", "x", []byte(strings.Repeat("a", 2048)), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Handle(context.Background(), tc.signature, tc.body)
			if got := apperr.StatusOf(err); got != tc.status {
				t.Errorf("expected %d, got %d (%v)", tc.status, got, err)
			}
		})
	}
	if s.calls != 0 {
		t.Errorf("sync must not run for rejected deliveries, ran %d times", s.calls)
	}
}

func TestHandlePropagatesSyncErrors(t *testing.T) {
	s := &fakeSyncer{
		res: &pipeline.Result{RunID: "run-2", State: pipeline.StateFailed},
		err: apperr.Sync("pulling repository", errors.New("exit 1")),
	}
	g := newGate(t, s)
	body := SamplePush("refs/heads/main", "")

	_, err := g.Handle(context.Background(), Sign(secret, body), body)
	if apperr.StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("expected 500, got %v", err)
	}
}

func TestHandleWithoutSecret(t *testing.T) {
	g, err := NewGate("", 0, &fakeSyncer{}, nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if g.MaxBody() != 1<<20 {
		t.Errorf("expected default max body, got %d", g.MaxBody())
	}
	_, err = g.Handle(context.Background(), "sha256=00", []byte("{}"))
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
}
