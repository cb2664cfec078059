package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/maltedev/bluray-scraper/internal/models"
)

var (
	detailPathRe  = regexp.MustCompile(`^/(movies|dvd)/[^/]+/\d+/?$`)
	countRe       = regexp.MustCompile(`\d[\d,]*`)
	yearRe        = regexp.MustCompile(`^\d{4}(-\d{4})?$`)
	releaseDateRe = regexp.MustCompile(`^[A-Za-z]+ \d{2}, \d{4}$`)
	screenshotRe  = regexp.MustCompile(`src\s*[:=]\s*['"]([^'"]*/reviews/[^'"]+)['"]`)
	coverRe       = regexp.MustCompile(`https?://[^\s"'<>]+/movies/covers/\d+_(front|back|overview|slip|slipback)\.jpg(?:\?t=\d+)?`)
)

// creditMarkers start the credits block inside #movie_info.
var creditMarkers = []string{"Directors:", "Director:", "Producers:", "Producer:", "Starring:", "Writers:", "Writer:", "Narrator:", "Narrators:", "Composer:", "Composers:"}

// CatalogExtractor reads blu-ray.com pages plus the price tracker and
// marketplace pages used for commerce lookups.
type CatalogExtractor struct {
	origin string
}

// NewCatalogExtractor returns an extractor for the catalog served at origin,
// e.g. https://www.blu-ray.com.
func NewCatalogExtractor(origin string) *CatalogExtractor {
	return &CatalogExtractor{origin: strings.TrimRight(origin, "/")}
}

// IsLive reports whether the page carries the site's home link. Blocked or
// blank responses do not.
func (e *CatalogExtractor) IsLive(body []byte) bool {
	doc, err := newDocument(body)
	if err != nil {
		return false
	}
	return doc.Find(fmt.Sprintf(`a[href=%q]`, e.origin+"/")).Length() > 0
}

func (e *CatalogExtractor) ListPage(body []byte, pageURL string) (*ListPage, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse list page: %w", err)
	}

	page := &ListPage{}
	seen := make(map[string]struct{})
	doc.Find("table.bevel a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := resolve(pageURL, href)
		u, err := url.Parse(abs)
		if err != nil || !detailPathRe.MatchString(u.Path) {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		page.Links = append(page.Links, abs)
	})

	if counter := doc.Find(".oswaldcollection").First(); counter.Length() > 0 {
		if m := countRe.FindString(counter.Text()); m != "" {
			if n, err := strconv.Atoi(strings.ReplaceAll(m, ",", "")); err == nil {
				page.Total = n
				page.HasTotal = true
			}
		}
	}

	return page, nil
}

func (e *CatalogExtractor) Detail(body []byte, pageURL string) (*Detail, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page: %w", err)
	}
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page: %w", err)
	}

	d := &Detail{PageID: PageID(pageURL)}

	e.coreInfo(doc, d)
	d.Specs = e.techSpecs(root)
	d.Specs.Audio = languageList(doc.Find("div#longaudio"))
	d.Specs.Subtitles = languageList(doc.Find("div#longsubs"))
	d.Pricing = e.pricing(root)

	d.Title = directText(doc.Find("#movie_info h3").First())
	d.SubheadingTitle = directText(doc.Find(".subheadingtitle").First())

	var info []string
	for _, l := range textNodes(doc.Find("#movie_info")) {
		if !strings.Contains(l, "Screenshots") {
			info = append(info, l)
		}
	}
	d.Description = description(info)

	if href, ok := doc.Find(`a[href*="#Castandcrew"]`).First().Attr("href"); ok {
		d.CastCrewURL = resolve(pageURL, href)
	} else {
		d.People = inlineCredits(info)
	}

	for _, g := range textNodes(doc.Find(".genreappeal")) {
		if len(d.Genres) == 3 {
			break
		}
		d.Genres = append(d.Genres, g)
	}

	if href, ok := doc.Find("#movie_buylink").First().Attr("href"); ok {
		d.BuyLink = resolve(pageURL, href)
	}
	if href, ok := doc.Find(`a[href*="ebay.com/sch/"]`).First().Attr("href"); ok {
		d.UPC = strings.TrimSpace(queryParam(href, "_nkw"))
	}
	if href, ok := doc.Find(`a[href*="#Screenshots"]`).First().Attr("href"); ok {
		d.ScreenshotsURL = resolve(pageURL, href)
	}

	d.Covers = coverURLs(doc)

	return d, nil
}

func (e *CatalogExtractor) coreInfo(doc *goquery.Document, d *Detail) {
	core := directText(doc.Find(".subheading.grey").First())
	if core == "" {
		return
	}
	for _, part := range strings.Split(core, "|") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case yearRe.MatchString(part):
			d.ProductionYear = part
		case strings.Contains(part, "min"):
			d.Runtime = part
		case strings.Contains(strings.ToLower(part), "rated"):
			d.AgeRating = part
		case releaseDateRe.MatchString(part):
			d.ReleaseDate = part
		case d.Production == "":
			d.Production = part
		}
	}
}

func (e *CatalogExtractor) techSpecs(root *html.Node) models.TechSpecs {
	var specs models.TechSpecs
	td := htmlquery.FindOne(root, "//td[@width='228px']")
	if td == nil {
		return specs
	}

	text := nodeText(td)
	var headers []string
	for _, n := range htmlquery.Find(td, ".//*[contains(concat(' ', normalize-space(@class), ' '), ' subheading ')]") {
		if h := strings.TrimSpace(htmlquery.InnerText(n)); h != "" {
			headers = append(headers, h)
		}
	}

	for i, header := range headers {
		next := ""
		if i+1 < len(headers) {
			next = headers[i+1]
		}
		section := textBetween(text, header, next)

		switch header {
		case "Video":
			for _, line := range lines(section) {
				value := strings.TrimSpace(line[strings.Index(line, ":")+1:])
				switch {
				case strings.Contains(line, "Codec"):
					specs.Codec = value
				case strings.Contains(line, "Encoding"):
					specs.Encoding = value
				case strings.Contains(line, "Resolution"):
					specs.Resolution = value
				case strings.Contains(line, "Original aspect ratio"):
					specs.OriginalAspectRatio = value
				case strings.Contains(line, "Aspect ratio"):
					specs.AspectRatio = value
				}
			}
		case "Discs", "Disc":
			specs.Discs = lines(section)
		case "Playback":
			specs.Playback = lines(section)
		case "Packaging":
			specs.Packaging = lines(section)
		}
	}
	return specs
}

func (e *CatalogExtractor) pricing(root *html.Node) models.Pricing {
	var p models.Pricing
	td := htmlquery.FindOne(root, "//td[@width='266px']")
	if td == nil {
		return p
	}
	for _, line := range lines(textBetween(nodeText(td), "Price", "Price")) {
		switch {
		case strings.Contains(line, "Used"):
			p.UsedPrice = priceAfterDollar(line)
		case strings.Contains(line, "New"):
			p.NewPrice = priceAfterDollar(line)
		}
	}
	return p
}

func priceAfterDollar(line string) string {
	i := strings.LastIndex(line, "$")
	if i < 0 {
		return ""
	}
	fields := strings.Fields(line[i+1:])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// languageList joins the direct text lines of an audio or subtitle block,
// dropping the (less) toggle.
func languageList(sel *goquery.Selection) string {
	var parts []string
	sel.First().Contents().Each(func(_ int, c *goquery.Selection) {
		n := c.Get(0)
		if n == nil || n.Type != html.TextNode {
			return
		}
		t := strings.TrimSpace(n.Data)
		t = strings.TrimSpace(strings.NewReplacer(`("less")`, "", "(less)", "").Replace(t))
		if t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, ", ")
}

func isCreditMarker(line string) bool {
	for _, m := range creditMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// description returns the #movie_info lines between the title and the
// credits block.
func description(info []string) string {
	if len(info) < 2 {
		return ""
	}
	var out []string
	for _, l := range info[1:] {
		if isCreditMarker(l) {
			break
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// inlineCredits reads "Director: ..." style credits embedded in #movie_info.
func inlineCredits(info []string) *models.People {
	people := models.NewPeople()
	var role models.Role
	for _, l := range info {
		if isCreditMarker(l) {
			label := l[:strings.Index(l, ":")]
			if r, ok := models.ParseRole(label); ok {
				role = r
			}
			continue
		}
		if role == "" {
			continue
		}
		if strings.Contains(l, "»") || strings.Contains(l, "cast & crew") || strings.ContainsAny(l, ",:") {
			continue
		}
		people.Add(role, l)
	}
	return people
}

func coverURLs(doc *goquery.Document) models.Covers {
	var scripts strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts.WriteString(s.Text())
		scripts.WriteByte('\n')
	})

	var covers models.Covers
	for _, m := range coverRe.FindAllStringSubmatch(scripts.String(), -1) {
		role := models.CoverRole(m[1])
		if covers.Get(role) == "" {
			covers.Set(role, m[0])
		}
	}
	return covers
}

// Screenshots lists review image URLs found on a page. Dedicated screenshot
// pages also link full-size images, so their thumbnails are skipped.
func (e *CatalogExtractor) Screenshots(body []byte, dedicated bool) ([]string, error) {
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse screenshots page: %w", err)
	}

	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, img := range htmlquery.Find(root, `//img[contains(@src, "/reviews/")]`) {
		add(htmlquery.SelectAttr(img, "src"))
	}
	for _, m := range screenshotRe.FindAllSubmatch(body, -1) {
		add(string(m[1]))
	}

	if dedicated {
		kept := urls[:0]
		for _, u := range urls {
			if !strings.Contains(u, "_tn") {
				kept = append(kept, u)
			}
		}
		urls = kept
	}

	return urls, nil
}

// CastCrew reads the dedicated cast and crew page. Each table.bevel block
// holds one role heading and its names.
func (e *CatalogExtractor) CastCrew(body []byte) (*models.People, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cast page: %w", err)
	}

	people := models.NewPeople()
	doc.Find("table.bevel").Each(func(_ int, table *goquery.Selection) {
		role, ok := models.ParseRole(table.Find("td:nth-child(2) h5").First().Text())
		if !ok {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			people.Add(role, row.Find("td.middle a").First().Text())
		})
	})
	return people, nil
}
