package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/mailmerge/docx"
)

// Native produces DOCX, HTML and Markdown in-process. It holds no session
// and is safe for concurrent use.
type Native struct {
	md *converter.Converter
}

// NewNative builds the in-process backend.
func NewNative() *Native {
	return &Native{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (n *Native) Convert(ctx context.Context, doc []byte, f Format) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch f {
	case DOCX:
		return doc, nil
	case HTML:
		return n.html(doc)
	case Markdown:
		page, err := n.html(doc)
		if err != nil {
			return nil, err
		}
		md, err := n.md.ConvertString(string(page))
		if err != nil {
			return nil, fmt.Errorf("convert: markdown: %w", err)
		}
		return []byte(strings.TrimSpace(md) + "\n"), nil
	}
	return nil, fmt.Errorf("%w: %s (native)", ErrUnsupportedFormat, f)
}

func (n *Native) html(doc []byte) ([]byte, error) {
	parsed, err := docx.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	return RenderHTML(parsed)
}
