package docstore

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// ConvertHTML turns a fetched web page into markdown suitable for
// chunking. Readability strips navigation and boilerplate first; when
// it cannot find an article the full document is converted instead.
func ConvertHTML(content string, pageURL *url.URL) (title, markdown string, err error) {
	body := content
	article, rerr := readability.FromReader(strings.NewReader(content), pageURL)
	if rerr == nil && strings.TrimSpace(article.Content) != "" {
		body = article.Content
		title = strings.TrimSpace(article.Title)
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	markdown, err = converter.ConvertString(body)
	if err != nil {
		return "", "", fmt.Errorf("convert HTML to markdown: %w", err)
	}
	markdown = cleanMarkdown(markdown)
	if strings.TrimSpace(markdown) == "" {
		return "", "", fmt.Errorf("page produced no markdown content")
	}

	if title == "" {
		title = extractHTMLTitle(content)
	}
	if title == "" && pageURL != nil {
		title = pageURL.Host
	}
	return title, markdown, nil
}

// extractHTMLTitle walks the parse tree for the <title> element.
func extractHTMLTitle(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

func cleanMarkdown(s string) string {
	s = excessBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s) + "\n"
}
