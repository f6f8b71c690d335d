// Package content はアーカイブ本文（型付き要素の配列）の読み出し時処理を提供する。
//
// 保存値は一切書き換えず、読み出しのたびに以下の投影を行う:
//   - テキスト系要素に紛れ込んだHTMLマークアップの除去（既知の要素タグを含む場合のみ）
//   - video 要素の url への展開と動画メタデータの付与
package content

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hitoshi/timevault/internal/model"
)

// VideoLookup は動画IDからメタデータを引くインターフェース。
// 見つからない場合は nil, nil を返す。
type VideoLookup interface {
	VideoMetadata(ctx context.Context, id string) (*model.VideoMetadata, error)
}

var (
	youkuIDPattern   = regexp.MustCompile(`id_(X[a-zA-Z0-9]+)`)
	youkuSIDPattern  = regexp.MustCompile(`sid/(X[a-zA-Z0-9]+)`)
	qqVideoIDPattern = regexp.MustCompile(`/([a-zA-Z0-9]+)\.html`)
)

// VideoID は保存されている動画URLから外部動画IDを取り出す。
// 対応: 優酷（id_X..., sid/X...）、QQ動画（/<id>.html）。該当しなければ空文字列。
func VideoID(url string) string {
	if m := youkuIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := youkuSIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := qqVideoIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// Parse は本文JSONを要素配列に変換する。NULLや不正なJSONは空配列になる。
func Parse(raw *string) []model.ContentItem {
	if raw == nil || *raw == "" {
		return []model.ContentItem{}
	}
	var items []model.ContentItem
	if err := json.Unmarshal([]byte(*raw), &items); err != nil || items == nil {
		return []model.ContentItem{}
	}
	return items
}

// Normalizer は読み出し時の投影を行う。bluemondayのポリシーはスレッドセーフ。
type Normalizer struct {
	policy *bluemonday.Policy
	videos VideoLookup
	logger *slog.Logger
}

// NewNormalizer は Normalizer を生成する。videos が nil の場合は動画メタデータを付与しない。
func NewNormalizer(videos VideoLookup, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		policy: bluemonday.StrictPolicy(),
		videos: videos,
		logger: logger,
	}
}

// CleanText はタグを取り除いたプレーンテキストを返す。
// 既知のHTML要素を含まない文字列（"<new>" のような山括弧入りの本文を含む）はそのまま返す。
// StrictPolicy はエンティティをエスケープするため、最後に元の文字へ戻す。
func (n *Normalizer) CleanText(s string) string {
	if !hasMarkup(s) {
		return s
	}
	return html.UnescapeString(n.policy.Sanitize(s))
}

// hasMarkup は s が既知のHTML要素のタグを含むかどうかを返す。
func hasMarkup(s string) bool {
	if !strings.ContainsRune(s, '<') {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		case html.CommentToken:
			return true
		}
	}
}

// Parse は本文JSONを解析し、投影済みの要素配列を返す。
func (n *Normalizer) Parse(ctx context.Context, raw *string) []model.ContentItem {
	items := Parse(raw)
	n.Apply(ctx, items)
	return items
}

// Apply は要素配列をその場で投影する。
func (n *Normalizer) Apply(ctx context.Context, items []model.ContentItem) {
	for i := range items {
		item := &items[i]
		switch {
		case item.IsText():
			s, ok := item.StringContent()
			if !ok {
				continue
			}
			cleaned := n.CleanText(s)
			if cleaned != s {
				if b, err := json.Marshal(cleaned); err == nil {
					item.Content = b
				}
			}
		case item.Type == model.ContentVideo:
			n.expandVideo(ctx, item)
		}
	}
}

// CleanOptional は NULL 許容のテキスト列を掃除する。
func (n *Normalizer) CleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := n.CleanText(*s)
	return &cleaned
}

// expandVideo は video 要素の content（URL文字列）を url に移し、メタデータを付与する。
// メタデータの取得失敗は本文の返却を妨げない。
func (n *Normalizer) expandVideo(ctx context.Context, item *model.ContentItem) {
	url, ok := item.StringContent()
	if !ok {
		return
	}
	item.Content = nil
	item.URL = url

	id := VideoID(url)
	if id == "" || n.videos == nil {
		return
	}
	meta, err := n.videos.VideoMetadata(ctx, id)
	if err != nil {
		n.logger.Warn("video metadata lookup failed",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if meta != nil {
		m := *meta
		m.ID = id
		item.Metadata = &m
	}
}
