package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/procuredocs/regcrawler/internal/regulation"
)

// A strategy is one attempt in an ordered cascade over a parsed page. The
// cascade short-circuits on the first strategy that produces a value.
type strategy struct {
	name string
	run  func(*goquery.Document) (string, bool)
}

// minTitleLen is the shortest cleaned title worth keeping. Anything at or
// below this is navigation chrome, not a document title.
const minTitleLen = 5

// titleStrategies: the portal's own title node first, then generic heading
// and title-class selectors, then the page <title> as a last resort.
var titleStrategies = buildSelectorStrategies(titleFromSelector, []string{
	"#nonSecretTitle",
	"h1",
	"h2.title",
	"h2",
	".article-title",
	".news-title",
	".content-title",
	"title",
})

// contentStrategies: the portal's body container first, then generic
// article/content-class containers.
var contentStrategies = append(
	buildSelectorStrategies(containerHTML, []string{
		"div.txt#content",
		".article-content",
		".news-content",
		".content",
		".article-body",
		"#content",
		"article",
		".TRS_Editor",
		".Custom_UnifyPE",
	}),
	strategy{name: "paragraph-join", run: paragraphJoin},
)

func buildSelectorStrategies(run func(*goquery.Document, string) (string, bool), selectors []string) []strategy {
	strategies := make([]strategy, 0, len(selectors))
	for _, sel := range selectors {
		strategies = append(strategies, strategy{
			name: sel,
			run: func(doc *goquery.Document) (string, bool) {
				return run(doc, sel)
			},
		})
	}
	return strategies
}

func runCascade(doc *goquery.Document, strategies []strategy) (string, string) {
	for _, s := range strategies {
		if v, ok := s.run(doc); ok {
			return v, s.name
		}
	}
	return "", ""
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	siteSuffix    = regexp.MustCompile(`[-_|].*$`)
)

func titleFromSelector(doc *goquery.Document, selector string) (string, bool) {
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return "", false
	}
	title := CleanTitle(el.Text())
	if len([]rune(title)) <= minTitleLen {
		return "", false
	}
	return title, true
}

// CleanTitle collapses whitespace runs and removes the trailing site-name
// suffix after the first -, _ or |.
func CleanTitle(raw string) string {
	title := whitespaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")
	title = siteSuffix.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// strippedTags are removed from a matched content container before it is
// serialized.
const strippedTags = "script, style, nav, header, footer"

func containerHTML(doc *goquery.Document, selector string) (string, bool) {
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return "", false
	}
	el.Find(strippedTags).Remove()
	html, err := goquery.OuterHtml(el)
	if err != nil {
		return "", false
	}
	return html, true
}

// minParagraphContentLen guards the paragraph-join fallback against pages
// whose stray <p> elements carry no real body.
const minParagraphContentLen = 100

func paragraphJoin(doc *goquery.Document) (string, bool) {
	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if strings.TrimSpace(p.Text()) == "" {
			return
		}
		if html, err := goquery.OuterHtml(p); err == nil {
			parts = append(parts, html)
		}
	})
	content := strings.Join(parts, "\n")
	if len([]rune(content)) <= minParagraphContentLen {
		return "", false
	}
	return content, true
}

// datePatterns are tried in order against the page's full text; the labeled
// publish-date form wins over any bare date appearing earlier on the page.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`发布[日期时间：:\s]*(\d{4}[年/-]\d{1,2}[月/-]\d{1,2}[日]?)`),
	regexp.MustCompile(`(\d{4}[年/-]\d{1,2}[月/-]\d{1,2}[日]?)`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
}

func extractPublishDate(doc *goquery.Document) (time.Time, bool) {
	text := doc.Text()
	for _, pattern := range datePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		// First matching pattern decides. A capture that fails to parse means
		// the page has no usable date; later patterns do not get a turn.
		return regulation.ParseDate(m[1])
	}
	return time.Time{}, false
}
