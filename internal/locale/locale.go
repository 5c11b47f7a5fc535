// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locale provides the localized user-visible strings of the client.
//
// Message keys are the English text; other languages are registered in a
// private catalog so no global x/text state is touched.
package locale

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Default is the locale used when none is configured.
const Default = "zh-TW"

// Message keys.
const (
	keyErrorPrefix = "Error: "
	keyUnreachable = "cannot reach the analysis service at %s; make sure it is running"
	keyEmptyInput  = "please provide an image or a text prompt"
	keyHTTPStatus  = "request failed with status %d"
	keyRelayLost   = "relay connection lost: %v"
	keyRelayBad    = "malformed relay message: %s"
	keyCancelled   = "(cancelled)"
	keyThinking    = "thinking..."
)

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	zh := language.TraditionalChinese
	must(b.SetString(zh, keyErrorPrefix, "錯誤："))
	must(b.SetString(zh, keyUnreachable, "無法連線到分析服務 (%s)，請確認服務已啟動"))
	must(b.SetString(zh, keyEmptyInput, "請提供圖片或文字提示"))
	must(b.SetString(zh, keyHTTPStatus, "請求失敗（狀態碼 %d）"))
	must(b.SetString(zh, keyRelayLost, "中繼連線中斷：%v"))
	must(b.SetString(zh, keyRelayBad, "無效的中繼訊息：%s"))
	must(b.SetString(zh, keyCancelled, "（已取消）"))
	must(b.SetString(zh, keyThinking, "思考中..."))

	en := language.English
	for _, key := range []string{keyErrorPrefix, keyUnreachable, keyEmptyInput, keyHTTPStatus, keyRelayLost, keyRelayBad, keyCancelled, keyThinking} {
		must(b.SetString(en, key, key))
	}
	return b
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("locale: building catalog: %v", err))
	}
}

// =============================================================================
// PRINTER
// =============================================================================

// Printer renders user-visible strings in one language. The zero value is not
// usable; create one with New. A Printer is safe for concurrent use.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// New returns a printer for the given BCP 47 locale ("zh-TW", "en", ...).
// Unknown or malformed locales fall back to Default.
func New(locale string) *Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.MustParse(Default)
	}
	matched, _, _ := cat.Matcher().Match(tag)
	return &Printer{
		tag: matched,
		p:   message.NewPrinter(matched, message.Catalog(cat)),
	}
}

// Tag returns the matched language.
func (p *Printer) Tag() language.Tag {
	return p.tag
}

// ErrorPrefix is prepended to error text shown in a conversation turn.
func (p *Printer) ErrorPrefix() string {
	return p.p.Sprintf(keyErrorPrefix)
}

// FormatError renders an error message for display in an assistant turn.
func (p *Printer) FormatError(msg string) string {
	return p.ErrorPrefix() + msg
}

// Unreachable explains that the backend at addr refused or dropped the connection.
func (p *Printer) Unreachable(addr string) string {
	return p.p.Sprintf(keyUnreachable, addr)
}

// EmptyInput is the validation message for an empty request.
func (p *Printer) EmptyInput() string {
	return p.p.Sprintf(keyEmptyInput)
}

// HTTPStatus describes a non-success status without a readable body.
func (p *Printer) HTTPStatus(code int) string {
	return p.p.Sprintf(keyHTTPStatus, code)
}

// RelayLost describes a relay connection that ended before a terminal message.
func (p *Printer) RelayLost(err error) string {
	return p.p.Sprintf(keyRelayLost, err)
}

// RelayMalformed describes a relay message that could not be understood.
func (p *Printer) RelayMalformed(detail string) string {
	return p.p.Sprintf(keyRelayBad, detail)
}

// Cancelled marks a turn the user stopped.
func (p *Printer) Cancelled() string {
	return p.p.Sprintf(keyCancelled)
}

// Thinking is the placeholder shown before the first fragment arrives.
func (p *Printer) Thinking() string {
	return p.p.Sprintf(keyThinking)
}
