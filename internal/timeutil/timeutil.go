// Package timeutil はアーカイブ時刻文字列の正規化を提供する。
//
// アーカイブの時刻はすべて "2016-07-27 12:34:56" 形式の文字列で、辞書順比較が時刻順と一致する。
// 呼び出し側からはこの標準形式のほか、URL向けの短縮形式 "20160727-123456"、
// ISO形式 "2016-07-27T12:34:56"、日付のみ "2016-07-27" を受け付ける。
package timeutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hitoshi/timevault/internal/model"
)

// EndOfTime は「現在」ビューを表すカットオフの番兵値。
// これより後の時刻はアーカイブに存在しない。
const EndOfTime = "9999-12-31 23:59:59"

var (
	compactPattern  = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})-(\d{2})(\d{2})(\d{2})$`)
	standardPattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[ T](\d{2}):(\d{2}):(\d{2})$`)
	datePattern     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// NormalizeCutoff はカットオフ文字列を標準形式に変換する。
// 空文字列の場合は EndOfTime を返す。
func NormalizeCutoff(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EndOfTime, nil
	}
	return Normalize(s)
}

// Normalize は受け付け可能な形式の時刻文字列を標準形式に変換する。
// 形式が不正な場合は model.ErrInvalidArgument を返す。
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := standardPattern.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s-%s-%s %s:%s:%s", m[1], m[2], m[3], m[4], m[5], m[6]), nil
	}
	if m := compactPattern.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s-%s-%s %s:%s:%s", m[1], m[2], m[3], m[4], m[5], m[6]), nil
	}
	if m := datePattern.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s-%s-%s 00:00:00", m[1], m[2], m[3]), nil
	}
	return "", fmt.Errorf("invalid time %q: %w", s, model.ErrInvalidArgument)
}

// ToCompact は標準形式を短縮形式 "20160727-123456" に変換する。
func ToCompact(standard string) (string, error) {
	m := standardPattern.FindStringSubmatch(strings.TrimSpace(standard))
	if m == nil {
		return "", fmt.Errorf("invalid standard time %q: %w", standard, model.ErrInvalidArgument)
	}
	return m[1] + m[2] + m[3] + "-" + m[4] + m[5] + m[6], nil
}

// IsCompact は短縮形式として正しいかを返す。
func IsCompact(s string) bool {
	return compactPattern.MatchString(s)
}
