package discover

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/procuredocs/regcrawler/internal/regulation"
)

// listSelectors are tried in order; the first selector producing any anchors
// wins. List markup on the portal is unstable, so these are best-effort
// heuristics, not a contract.
var listSelectors = []string{
	"ul li a, ol li a",
	"a[href*='detail'], a[href*='content'], a[href*='.shtml']",
	"table a",
}

var nearbyDate = regexp.MustCompile(`(\d{4}[年/-]\d{1,2}[月/-]\d{1,2}[日]?|\d{4}-\d{2}-\d{2})`)

// ScanListHTML extracts candidate document links from a listing page.
// Non-navigational targets (javascript:, mailto:, bare fragments) are
// filtered; a date hint is recovered from the text surrounding each link.
func ScanListHTML(body []byte, baseURL string) ([]regulation.ListItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var anchors *goquery.Selection
	for _, sel := range listSelectors {
		anchors = doc.Find(sel)
		if anchors.Length() > 0 {
			break
		}
	}
	if anchors == nil || anchors.Length() == 0 {
		return nil, nil
	}

	var items []regulation.ListItem
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		title := strings.TrimSpace(a.Text())
		if href == "" || title == "" {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "#") {
			return
		}
		full, err := resolveURL(baseURL, href)
		if err != nil {
			return
		}

		var dateHint string
		if parent := a.Parent(); parent.Length() > 0 {
			if m := nearbyDate.FindString(parent.Text()); m != "" {
				dateHint = m
			}
		}

		items = append(items, regulation.ListItem{
			DetailURL: full,
			TitleHint: title,
			DateHint:  dateHint,
		})
	})
	return items, nil
}
