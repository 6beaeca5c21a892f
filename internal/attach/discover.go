package attach

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// attachmentExtensions mark an anchor as an attachment candidate when its
// href contains one of them.
var attachmentExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx",
	".zip", ".rar", ".7z",
	".jpg", ".jpeg", ".png",
}

// DiscoverLinks collects attachment candidate URLs from a detail page in
// document order, duplicates removed by resolved URL. The portal's designated
// enclosure link, when present, sorts first.
func DiscoverLinks(page *goquery.Document, baseURL string) []string {
	var links []string
	seen := make(map[string]bool)

	add := func(href string) {
		full, ok := resolve(baseURL, href)
		if !ok || seen[full] {
			return
		}
		seen[full] = true
		links = append(links, full)
	}

	if enclosure := page.Find("#enclosureName a").First(); enclosure.Length() > 0 {
		if href, ok := enclosure.Attr("href"); ok && href != "" {
			add(href)
		}
	}

	page.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		lower := strings.ToLower(href)
		for _, ext := range attachmentExtensions {
			if strings.Contains(lower, ext) {
				add(href)
				return
			}
		}
	})

	return links
}

func resolve(base, ref string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(r).String(), true
}
