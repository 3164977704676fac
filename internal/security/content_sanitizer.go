// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はプロジェクトやタスクの説明文に含まれるHTMLを
// 保存前にサニタイズする。bluemondayの許可リストポリシーで簡単な書式タグのみを残す。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDescriptionLength はサニタイズ後の説明文の最大文字数。
const MaxDescriptionLength = 5000

// ContentSanitizerService は説明文のサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, a, ul, ol, li, blockquote, pre, code, strong, em）のみを通過させる。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string

	// SanitizeDescription は説明文をサニタイズし、前後の空白を除去する。
	// 結果が空になる場合はnilを返す。
	SanitizeDescription(raw *string) *string
}

// contentSanitizer はContentSanitizerServiceの実装。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em
//   - aタグ: httpsのhrefのみ。rel="noopener noreferrer"とtarget="_blank"を付与
//   - script, iframe, style, img, on*イベント属性は除去
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// SanitizeDescription は説明文をサニタイズする。
func (s *contentSanitizer) SanitizeDescription(raw *string) *string {
	if raw == nil {
		return nil
	}
	cleaned := strings.TrimSpace(s.policy.Sanitize(*raw))
	if cleaned == "" {
		return nil
	}
	if r := []rune(cleaned); len(r) > MaxDescriptionLength {
		cleaned = string(r[:MaxDescriptionLength])
	}
	return &cleaned
}
