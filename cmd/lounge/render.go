package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"
)

const replyWrapWidth = 80

// renderFunc turns a reply into what the terminal prints.
type renderFunc func(string) string

func plainText(s string) string { return s }

// newMarkdownRenderer renders replies with glamour, falling back to raw text
// when the renderer cannot be built or fails on a reply.
func newMarkdownRenderer(logger *zap.Logger) renderFunc {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(replyWrapWidth),
	)
	if err != nil {
		logger.Warn("markdown renderer unavailable", zap.Error(err))
		return plainText
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			logger.Debug("render reply failed", zap.Error(err))
			return s
		}
		return strings.TrimSpace(out)
	}
}
