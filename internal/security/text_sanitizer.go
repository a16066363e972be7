package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はチャットに表示するエリア名やユーザー名からHTMLを取り除く。
// 値はフロントエンドや外部APIから届くため、表示前に必ず通す。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグをすべて除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// チャットはHTMLを解釈しないため、エスケープされた実体参照は元の文字に戻す。
func (s *TextSanitizer) Sanitize(text string) string {
	cleaned := s.policy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
