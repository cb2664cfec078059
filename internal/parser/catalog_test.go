package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bluray-scraper/internal/models"
)

const origin = "https://www.blu-ray.com"

const detailPage = `<html><head>
<script>var covers = {front: "https://images.static-bluray.com/movies/covers/12345_front.jpg?t=1700000000", back: "https://images.static-bluray.com/movies/covers/12345_back.jpg?t=1700000000", slip: "https://images.static-bluray.com/movies/covers/12345_slip.jpg?t=1"};</script>
</head><body>
<a href="https://www.blu-ray.com/">Home</a>
<span class="subheading grey">20th Century Fox | 2009 | 162 min | Rated PG-13 | Nov 16, 2010</span>
<span class="subheadingtitle">Extended Collector's Edition</span>
<div id="movie_info">
<h3>Avatar 3D</h3>
<br>Jake Sully is a former marine.<br>He travels to Pandora.<br>
<span>Director: </span><a href="/x">James Cameron</a><br>
<span>Starring: </span><a>Sam Worthington</a>, <a>Zoe Saldana</a><br>
<a>» See full cast & crew</a>
</div>
<table><tr>
<td width="228px">
<span class="subheading">Video</span><br>
Codec: MPEG-4 MVC<br>
Encoding: 3D<br>
Resolution: 1080p<br>
Aspect ratio: 1.78:1<br>
Original aspect ratio: 1.78:1<br>
<br>
<span class="subheading">Audio</span><br>
English: DTS-HD MA 5.1<br>
<span class="subheading">Discs</span><br>
Blu-ray 3D<br>
Two-disc set<br>
<span class="subheading">Playback</span><br>
Region A<br>
<span class="subheading">Packaging</span><br>
Slipcover<br>
</td>
<td width="266px">
<span class="subheading">Price</span><br>
New $19.99 (Amazon)<br>
Used $7.50<br>
<span class="subheading">Price history</span>
</td>
</tr></table>
<div id="longaudio">English DTS-HD Master Audio 5.1<br>French Dolby Digital 5.1<br><a href="#">(less)</a></div>
<div id="longsubs">English SDH<br>Spanish</div>
<div class="genreappeal"><a>Sci-Fi</a> <a>Action</a> <a>Adventure</a> <a>Fantasy</a></div>
<a id="movie_buylink" href="/link/click.php?id=1">Buy</a>
<a href="https://www.ebay.com/sch/i.html?_nkw=024543617907&tag=x">eBay</a>
<a href="/movies/Avatar-3D-Blu-ray/12345/#Screenshots">Screenshots</a>
</body></html>`

func TestCatalogExtractor_Detail(t *testing.T) {
	e := NewCatalogExtractor(origin)
	pageURL := origin + "/movies/Avatar-3D-Blu-ray/12345/"

	d, err := e.Detail([]byte(detailPage), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "12345", d.PageID)
	assert.Equal(t, "Avatar 3D", d.Title)
	assert.Equal(t, "Extended Collector's Edition", d.SubheadingTitle)
	assert.Equal(t, "20th Century Fox", d.Production)
	assert.Equal(t, "2009", d.ProductionYear)
	assert.Equal(t, "162 min", d.Runtime)
	assert.Equal(t, "Rated PG-13", d.AgeRating)
	assert.Equal(t, "Nov 16, 2010", d.ReleaseDate)
	assert.Equal(t, "Jake Sully is a former marine.\nHe travels to Pandora.", d.Description)
	assert.Equal(t, []string{"Sci-Fi", "Action", "Adventure"}, d.Genres)

	assert.Equal(t, "MPEG-4 MVC", d.Specs.Codec)
	assert.Equal(t, "3D", d.Specs.Encoding)
	assert.Equal(t, "1080p", d.Specs.Resolution)
	assert.Equal(t, "1.78:1", d.Specs.AspectRatio)
	assert.Equal(t, "1.78:1", d.Specs.OriginalAspectRatio)
	assert.Equal(t, []string{"Blu-ray 3D", "Two-disc set"}, d.Specs.Discs)
	assert.Equal(t, []string{"Region A"}, d.Specs.Playback)
	assert.Equal(t, []string{"Slipcover"}, d.Specs.Packaging)
	assert.Equal(t, "English DTS-HD Master Audio 5.1, French Dolby Digital 5.1", d.Specs.Audio)
	assert.Equal(t, "English SDH, Spanish", d.Specs.Subtitles)

	assert.Equal(t, "19.99", d.Pricing.NewPrice)
	assert.Equal(t, "7.50", d.Pricing.UsedPrice)

	assert.Equal(t, "024543617907", d.UPC)
	assert.Equal(t, origin+"/link/click.php?id=1", d.BuyLink)
	assert.Equal(t, pageURL+"#Screenshots", d.ScreenshotsURL)
	assert.Empty(t, d.CastCrewURL)

	require.NotNil(t, d.People)
	assert.Equal(t, []string{"James Cameron"}, d.People.Names(models.RoleDirector))
	assert.Equal(t, []string{"Sam Worthington", "Zoe Saldana"}, d.People.Names(models.RoleCast))

	assert.Equal(t, "https://images.static-bluray.com/movies/covers/12345_front.jpg?t=1700000000", d.Covers.FrontURL)
	assert.Equal(t, "https://images.static-bluray.com/movies/covers/12345_back.jpg?t=1700000000", d.Covers.BackURL)
	assert.Equal(t, "https://images.static-bluray.com/movies/covers/12345_slip.jpg?t=1", d.Covers.SlipURL)
	assert.Empty(t, d.Covers.SlipbackURL)
	assert.Empty(t, d.Covers.OverviewURL)
}

func TestCatalogExtractor_DetailWithCastPage(t *testing.T) {
	page := `<html><body>
<div id="movie_info"><h3>Up 3D</h3>A house flies.<br>
<a href="#Castandcrew">Cast &amp; crew</a></div>
</body></html>`

	d, err := NewCatalogExtractor(origin).Detail([]byte(page), origin+"/movies/Up-3D-Blu-ray/222/")
	require.NoError(t, err)
	assert.Equal(t, origin+"/movies/Up-3D-Blu-ray/222/#Castandcrew", d.CastCrewURL)
	assert.Nil(t, d.People)
	assert.Empty(t, d.UPC)
	assert.Empty(t, d.BuyLink)
}

func TestCatalogExtractor_ListPage(t *testing.T) {
	page := `<html><body>
<span class="oswaldcollection">1,234 movies</span>
<table class="bevel">
<tr><td><a href="/movies/Avatar-3D-Blu-ray/12345/">Avatar</a></td></tr>
<tr><td><a href="https://www.blu-ray.com/movies/Up-3D-Blu-ray/222/">Up</a><a href="/movies/Up-3D-Blu-ray/222/">dup</a></td></tr>
<tr><td><a href="/movies/search.php?page=2">next</a></td></tr>
</table>
<a href="/movies/Outside-Blu-ray/9/">not in results</a>
</body></html>`

	p, err := NewCatalogExtractor(origin).ListPage([]byte(page), origin+"/movies/search.php?page=0")
	require.NoError(t, err)
	assert.Equal(t, []string{
		origin + "/movies/Avatar-3D-Blu-ray/12345/",
		origin + "/movies/Up-3D-Blu-ray/222/",
	}, p.Links)
	assert.True(t, p.HasTotal)
	assert.Equal(t, 1234, p.Total)

	empty, err := NewCatalogExtractor(origin).ListPage([]byte(`<html></html>`), origin)
	require.NoError(t, err)
	assert.Empty(t, empty.Links)
	assert.False(t, empty.HasTotal)
}

func TestCatalogExtractor_IsLive(t *testing.T) {
	e := NewCatalogExtractor(origin + "/")
	assert.True(t, e.IsLive([]byte(`<a href="https://www.blu-ray.com/">home</a>`)))
	assert.False(t, e.IsLive([]byte(`<html><body>Access denied</body></html>`)))
	assert.False(t, e.IsLive(nil))
}

func TestCatalogExtractor_Screenshots(t *testing.T) {
	page := `<html><body>
<img src="https://images.static-bluray.com/reviews/1_tn.jpg">
<img src="https://images.static-bluray.com/reviews/2_large.jpg">
<img src="/images/logo.png">
<script>var a = {src: '/images/reviews/77/shot3.jpg'}; img.src = "https://images.static-bluray.com/reviews/2_large.jpg";</script>
</body></html>`
	e := NewCatalogExtractor(origin)

	dedicated, err := e.Screenshots([]byte(page), true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://images.static-bluray.com/reviews/2_large.jpg",
		"/images/reviews/77/shot3.jpg",
	}, dedicated)

	inline, err := e.Screenshots([]byte(page), false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://images.static-bluray.com/reviews/1_tn.jpg",
		"https://images.static-bluray.com/reviews/2_large.jpg",
		"/images/reviews/77/shot3.jpg",
	}, inline)
}

func TestCatalogExtractor_CastCrew(t *testing.T) {
	page := `<html><body>
<table class="bevel"><tr><td></td><td><h5>Director</h5></td></tr>
<tr><td class="middle"><a>James Cameron</a></td></tr></table>
<table class="bevel"><tr><td></td><td><h5>Cast</h5></td></tr>
<tr><td class="middle"><a>Sam Worthington</a></td></tr>
<tr><td class="middle"><a>Zoe Saldana</a></td></tr>
<tr><td class="middle"><a>Sam Worthington</a></td></tr></table>
<table class="bevel"><tr><td></td><td><h5>Cinematographer</h5></td></tr>
<tr><td class="middle"><a>Mauro Fiore</a></td></tr></table>
</body></html>`

	people, err := NewCatalogExtractor(origin).CastCrew([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"James Cameron"}, people.Names(models.RoleDirector))
	assert.Equal(t, []string{"Sam Worthington", "Zoe Saldana"}, people.Names(models.RoleCast))
	assert.Equal(t, 3, people.Len())
}

func TestPageID(t *testing.T) {
	assert.Equal(t, "12345", PageID(origin+"/movies/Avatar-3D-Blu-ray/12345/"))
	assert.Equal(t, "12345", PageID(origin+"/movies/Avatar-3D-Blu-ray/12345"))
	assert.Equal(t, "", PageID(origin+"/"))
}
