package kayako

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/koscakluka/ema-support/core/knowledgebase"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	articlePageSize = 100
	maxArticlePages = 500
	preferredLocale = "en-us"
)

type localeField struct {
	Locale      string `json:"locale"`
	Translation string `json:"translation"`
}

type articleItem struct {
	ID       json.Number   `json:"id"`
	Status   string        `json:"status"`
	Titles   []localeField `json:"titles"`
	Contents []localeField `json:"contents"`
	Slugs    []localeField `json:"slugs"`
	Tags     []struct {
		Name string `json:"name"`
	} `json:"tags"`
}

type articlePage struct {
	Data    []articleItem `json:"data"`
	NextURL string        `json:"next_url"`
}

// ListArticles pages through the help center and returns its published
// articles as plain text, ready for indexing.
func (c *Client) ListArticles(ctx context.Context) ([]knowledgebase.Article, error) {
	ctx, span := tracer.Start(ctx, "kayako.list_articles", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var articles []knowledgebase.Article
	for page := range maxArticlePages {
		var decoded articlePage
		err := c.do(ctx, request{
			method: http.MethodGet,
			path:   "/articles",
			query: url.Values{
				"include": {"contents,titles,tags"},
				"offset":  {strconv.Itoa(page * articlePageSize)},
				"limit":   {strconv.Itoa(articlePageSize)},
			},
		}, &decoded)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to list articles: %w", err)
		}

		for _, item := range decoded.Data {
			if item.Status != "" && !strings.EqualFold(item.Status, "published") {
				continue
			}
			articles = append(articles, item.article())
		}
		if decoded.NextURL == "" || len(decoded.Data) == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("kayako.articles", len(articles)))
	return articles, nil
}

func (item articleItem) article() knowledgebase.Article {
	title := plainText(translation(item.Titles))
	if title == "" {
		title = strings.ReplaceAll(translation(item.Slugs), "-", " ")
	}
	keywords := make([]string, 0, len(item.Tags))
	for _, tag := range item.Tags {
		if tag.Name != "" {
			keywords = append(keywords, tag.Name)
		}
	}
	return knowledgebase.Article{
		ID:       item.ID.String(),
		Title:    title,
		Body:     plainText(translation(item.Contents)),
		Keywords: keywords,
	}
}

// translation picks the preferred locale and falls back to the first
// non-empty value.
func translation(fields []localeField) string {
	for _, field := range fields {
		if strings.EqualFold(field.Locale, preferredLocale) && field.Translation != "" {
			return field.Translation
		}
	}
	for _, field := range fields {
		if field.Translation != "" {
			return field.Translation
		}
	}
	return ""
}

// plainText strips markup from article HTML. Block elements become line
// breaks so sentences do not run together in search snippets.
func plainText(fragment string) string {
	if !strings.ContainsRune(fragment, '<') {
		return strings.TrimSpace(html.UnescapeString(fragment))
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return collapseSpace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				skip++
			case atom.Br, atom.P, atom.Div, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.Tr:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				skip = max(skip-1, 0)
			case atom.P, atom.Div, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.Tr:
				b.WriteByte('\n')
			}
		}
	}
}

func collapseSpace(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
