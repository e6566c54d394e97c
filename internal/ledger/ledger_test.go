package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mention_bot/internal/model"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func notification(uri, indexedAt string) *model.Notification {
	return &model.Notification{
		URI:       uri,
		Author:    &model.Author{Handle: "alice.example.com", DID: "did:plc:alice"},
		Record:    &model.PostRecord{Text: "hello @bot"},
		Reason:    "mention",
		IndexedAt: indexedAt,
	}
}

func TestAddIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	n := notification("at://a/1", "2026-08-25T10:00:00Z")

	for i := 0; i < 2; i++ {
		ok, err := l.Add(ctx, n)
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("add %d reported failure", i)
		}
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Errorf("expected a single pending row, got %+v", stats)
	}
}

func TestAddRejectsMalformed(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, n := range []*model.Notification{nil, {URI: ""}} {
		ok, err := l.Add(ctx, n)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if ok {
			t.Error("malformed notification accepted")
		}
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected empty ledger, got %+v", stats)
	}
}

func TestAddTruncatesLongText(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	n := notification("at://a/long", "2026-08-25T10:00:00Z")
	n.Record.Text = strings.Repeat("x", 600)

	if _, err := l.Add(ctx, n); err != nil {
		t.Fatalf("add: %v", err)
	}
	r, err := l.Get(ctx, n.URI)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(r.Text) != 500 {
		t.Errorf("expected text truncated to 500, got %d", len(r.Text))
	}
}

func TestIsProcessed(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	n := notification("at://a/2", "2026-08-25T10:00:00Z")

	if _, err := l.Add(ctx, n); err != nil {
		t.Fatalf("add: %v", err)
	}

	tests := []struct {
		name string
		prep func(t *testing.T)
		uri  string
		want bool
	}{
		{name: "unknown uri", uri: "at://never-seen", want: false},
		{name: "pending", uri: n.URI, want: false},
		{
			name: "processed",
			prep: func(t *testing.T) {
				if err := l.MarkProcessed(ctx, n.URI, model.StatusProcessed, ""); err != nil {
					t.Fatalf("mark: %v", err)
				}
			},
			uri:  n.URI,
			want: true,
		},
		{
			name: "error counts as handled",
			prep: func(t *testing.T) {
				if err := l.MarkProcessed(ctx, n.URI, model.StatusError, "agent timeout"); err != nil {
					t.Fatalf("mark: %v", err)
				}
			},
			uri:  n.URI,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prep != nil {
				tt.prep(t)
			}
			got, err := l.IsProcessed(ctx, tt.uri)
			if err != nil {
				t.Fatalf("is processed: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsProcessed(%q) = %t, want %t", tt.uri, got, tt.want)
			}
		})
	}
}

func TestMarkProcessedLastWriteWins(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	n := notification("at://a/3", "2026-08-25T10:00:00Z")
	if _, err := l.Add(ctx, n); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := l.MarkProcessed(ctx, n.URI, model.StatusError, "first failure"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	if err := l.MarkProcessed(ctx, n.URI, model.StatusProcessed, ""); err != nil {
		t.Fatalf("re-mark: %v", err)
	}

	r, err := l.Get(ctx, n.URI)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != model.StatusProcessed {
		t.Errorf("expected processed, got %s", r.Status)
	}
	if r.Error != "" {
		t.Errorf("expected error detail cleared, got %q", r.Error)
	}
	if r.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}
}

func TestMarkProcessedUnknownURIIsNoOp(t *testing.T) {
	l := newTestLedger(t)
	if err := l.MarkProcessed(context.Background(), "at://ghost", model.StatusProcessed, ""); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestUnprocessedOrderAndLimit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// Inserted out of discovery order on purpose.
	times := []string{"2026-08-25T12:00:00Z", "2026-08-25T10:00:00Z", "2026-08-25T11:00:00Z"}
	for i, ts := range times {
		if _, err := l.Add(ctx, notification(fmt.Sprintf("at://a/%d", i), ts)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := l.MarkProcessed(ctx, "at://a/2", model.StatusProcessed, ""); err != nil {
		t.Fatalf("mark: %v", err)
	}

	records, err := l.Unprocessed(ctx, 0)
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	var got []string
	for _, r := range records {
		got = append(got, r.URI)
	}
	want := []string{"at://a/1", "at://a/0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	limited, err := l.Unprocessed(ctx, 1)
	if err != nil {
		t.Fatalf("unprocessed limited: %v", err)
	}
	if len(limited) != 1 || limited[0].URI != "at://a/1" {
		t.Errorf("limit not honored: %+v", limited)
	}
}

func TestLatestProcessedTime(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	got, err := l.LatestProcessedTime(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty high-water mark, got %q", got)
	}

	for i, ts := range []string{"2026-08-25T10:00:00Z", "2026-08-25T12:00:00Z", "2026-08-25T11:00:00Z"} {
		uri := fmt.Sprintf("at://a/%d", i)
		if _, err := l.Add(ctx, notification(uri, ts)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := l.MarkProcessed(ctx, "at://a/0", model.StatusProcessed, ""); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := l.MarkProcessed(ctx, "at://a/2", model.StatusIgnored, ""); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// The newest record stays pending and must not advance the mark.

	got, err = l.LatestProcessedTime(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != "2026-08-25T11:00:00Z" {
		t.Errorf("expected high-water mark from handled records only, got %q", got)
	}
}

func TestCleanupPreservesPending(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02T15:04:05Z")
	fresh := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	cases := []struct {
		uri    string
		at     string
		status model.Status
	}{
		{uri: "at://old-processed", at: old, status: model.StatusProcessed},
		{uri: "at://old-error", at: old, status: model.StatusError},
		{uri: "at://old-pending", at: old, status: model.StatusPending},
		{uri: "at://fresh-processed", at: fresh, status: model.StatusProcessed},
	}
	for _, c := range cases {
		if _, err := l.Add(ctx, notification(c.uri, c.at)); err != nil {
			t.Fatalf("add: %v", err)
		}
		if c.status != model.StatusPending {
			if err := l.MarkProcessed(ctx, c.uri, c.status, ""); err != nil {
				t.Fatalf("mark: %v", err)
			}
		}
	}

	deleted, err := l.CleanupOldRecords(ctx, 7)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 rows deleted, got %d", deleted)
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("pending record pruned: %+v", stats)
	}
	if stats.Total != 2 {
		t.Errorf("expected old pending and fresh processed to survive, got %+v", stats)
	}
}

func TestStats(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	marks := []model.Status{
		model.StatusProcessed, model.StatusProcessed,
		model.StatusIgnored,
		model.StatusError,
		model.StatusPending,
	}
	for i, status := range marks {
		uri := fmt.Sprintf("at://a/%d", i)
		if _, err := l.Add(ctx, notification(uri, "2026-08-25T10:00:00Z")); err != nil {
			t.Fatalf("add: %v", err)
		}
		if status != model.StatusPending {
			if err := l.MarkProcessed(ctx, uri, status, ""); err != nil {
				t.Fatalf("mark: %v", err)
			}
		}
	}

	got, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := model.LedgerStats{Total: 5, Pending: 1, Processed: 2, Ignored: 1, Error: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessedURIs(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	marks := map[string]model.Status{
		"at://done":    model.StatusProcessed,
		"at://skipped": model.StatusIgnored,
		"at://failed":  model.StatusError,
		"at://waiting": model.StatusPending,
	}
	for uri, status := range marks {
		if _, err := l.Add(ctx, notification(uri, "2026-08-25T10:00:00Z")); err != nil {
			t.Fatalf("add: %v", err)
		}
		if status != model.StatusPending {
			if err := l.MarkProcessed(ctx, uri, status, ""); err != nil {
				t.Fatalf("mark: %v", err)
			}
		}
	}

	got, err := l.ProcessedURIs(ctx, 0)
	if err != nil {
		t.Fatalf("processed uris: %v", err)
	}
	want := map[string]struct{}{
		"at://done":    {},
		"at://skipped": {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("uri set mismatch (-want +got):\n%s", diff)
	}
}

func TestSessions(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.StartSession(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if err := l.UpdateSession(ctx, id, 2, 1, 0); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := l.UpdateSession(ctx, id, 1, 0, 1); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := l.EndSession(ctx, id); err != nil {
		t.Fatalf("end session: %v", err)
	}

	s, err := l.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Processed != 3 || s.Skipped != 1 || s.Errors != 1 {
		t.Errorf("counters did not accumulate: %+v", s)
	}
	if s.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}
	if s.StartedAt.IsZero() {
		t.Error("expected started_at to be set")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
