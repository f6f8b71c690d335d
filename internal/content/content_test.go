package content

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/timevault/internal/model"
)

// stubVideoLookup はVideoLookupのモック実装。
type stubVideoLookup struct {
	calls []string
	meta  map[string]*model.VideoMetadata
	err   error
}

func (s *stubVideoLookup) VideoMetadata(ctx context.Context, id string) (*model.VideoMetadata, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	return s.meta[id], nil
}

func strPtr(s string) *string { return &s }

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://v.youku.com/v_show/id_XMTIzNDU2.html", "XMTIzNDU2"},
		{"http://player.youku.com/player.php/sid/XNDU2Nzg5/v.swf", "XNDU2Nzg5"},
		{"https://v.qq.com/x/page/a0123bcd.html", "a0123bcd"},
		{"https://example.com/video.mp4", ""},
	}

	for _, tt := range tests {
		if got := VideoID(tt.url); got != tt.want {
			t.Errorf("VideoID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestParse_NullAndInvalid(t *testing.T) {
	if got := Parse(nil); len(got) != 0 || got == nil {
		t.Errorf("Parse(nil) = %#v, want empty non-nil slice", got)
	}
	if got := Parse(strPtr("not json")); len(got) != 0 {
		t.Errorf("Parse(invalid) = %#v, want empty slice", got)
	}
	got := Parse(strPtr(`[{"type":"text","content":"hi"}]`))
	if len(got) != 1 || got[0].Type != model.ContentText {
		t.Errorf("Parse(valid) = %#v", got)
	}
}

func TestNormalizer_CleanText(t *testing.T) {
	n := NewNormalizer(nil, nil)

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<b>bold</b> text", "bold text"},
		{"a & b", "a & b"},
		{"<script>alert(1)</script>ok", "ok"},
		{"<new> release notes", "<new> release notes"},
		{"a < b > c", "a < b > c"},
		{"5 &lt; 6", "5 &lt; 6"},
		{"<new> and <b>bold</b>", " and bold"},
	}

	for _, tt := range tests {
		if got := n.CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizer_ExpandsVideoWithMetadata(t *testing.T) {
	lookup := &stubVideoLookup{meta: map[string]*model.VideoMetadata{
		"XMTIzNDU2": {Title: "fursuit dance", Uploader: "someone"},
	}}
	n := NewNormalizer(lookup, nil)

	items := n.Parse(context.Background(), strPtr(`[{"type":"video","content":"http://v.youku.com/v_show/id_XMTIzNDU2.html"}]`))
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	v := items[0]
	if v.URL != "http://v.youku.com/v_show/id_XMTIzNDU2.html" {
		t.Errorf("URL = %q", v.URL)
	}
	if len(v.Content) != 0 {
		t.Errorf("Content should be cleared after expansion, got %s", v.Content)
	}
	if v.Metadata == nil || v.Metadata.ID != "XMTIzNDU2" || v.Metadata.Title != "fursuit dance" {
		t.Errorf("Metadata = %#v", v.Metadata)
	}
}

func TestNormalizer_VideoLookupFailureKeepsURL(t *testing.T) {
	lookup := &stubVideoLookup{err: errors.New("db closed")}
	n := NewNormalizer(lookup, nil)

	items := n.Parse(context.Background(), strPtr(`[{"type":"video","content":"https://v.qq.com/x/page/a0123bcd.html"}]`))
	if items[0].URL == "" {
		t.Error("URL should be set even when metadata lookup fails")
	}
	if items[0].Metadata != nil {
		t.Error("Metadata should be nil when lookup fails")
	}
	if len(lookup.calls) != 1 || lookup.calls[0] != "a0123bcd" {
		t.Errorf("lookup calls = %v", lookup.calls)
	}
}

func TestNormalizer_DoesNotShareStateBetweenParses(t *testing.T) {
	n := NewNormalizer(nil, nil)
	raw := strPtr(`[{"type":"text","content":"<i>x</i>"}]`)

	first := n.Parse(context.Background(), raw)
	second := n.Parse(context.Background(), raw)

	s1, _ := first[0].StringContent()
	s2, _ := second[0].StringContent()
	if s1 != "x" || s2 != "x" {
		t.Errorf("got %q and %q, want both %q", s1, s2, "x")
	}
	if *raw != `[{"type":"text","content":"<i>x</i>"}]` {
		t.Error("source JSON must not be modified")
	}
}
