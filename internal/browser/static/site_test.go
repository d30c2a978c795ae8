package static

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const rootHTML = `<html><body>
<nav>
  <b>Розробка</b>
  <ul>
    <li><a href="/developers/?title=Go">Go</a></li>
    <li><a href="/developers/?title=Python">Python</a></li>
  </ul>
  <ul>
    <li><a href="/developers/?title=Go">Go again</a></li>
  </ul>
  <ul>
    <li><a href="/developers/?title=Design">Design</a></li>
  </ul>
</nav>
<div class="page-content"></div>
</body></html>`

type card struct {
	path, title, country, published string
	badges                          []string
}

func (c card) html() string {
	var b strings.Builder
	b.WriteString(`<div class="card-body">`)
	if c.path != "" {
		fmt.Fprintf(&b, `<a class="profile" href="%s"> %s </a>`, c.path, c.title)
	}
	fmt.Fprintf(&b, `<p><span>%s</span><span>·</span><span>5 years</span><span>·</span><span>Active search</span><span>·</span><span>%s</span></p>`,
		c.country, c.published)
	b.WriteString(`<div class="text-card mb-2">Builds crawlers.</div>`)
	for _, badge := range c.badges {
		fmt.Fprintf(&b, `<span class="badge bg-light">%s</span>`, badge)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// listing renders one page. next empty means no forward control; disabled
// renders the control inside the tabindex=-1 anchor.
func listing(salary string, next string, disabled bool, cards ...card) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="page-content">`)
	if salary != "" {
		fmt.Fprintf(&b, `<h2>%s</h2>`, salary)
	}
	for _, c := range cards {
		b.WriteString(c.html())
	}
	switch {
	case disabled:
		b.WriteString(`<ul class="pagination"><li><a tabindex="-1" href="#"><span class="bi bi-chevron-right"></span></a></li></ul>`)
	case next != "":
		fmt.Fprintf(&b, `<ul class="pagination"><li><a href="%s"><span class="bi bi-chevron-right"></span></a></li></ul>`, next)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, rootHTML)
	})
	mux.HandleFunc("/developers/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("title") == "Go" && q.Get("page") == "":
			fmt.Fprint(w, listing("Go developers from $4500", "?title=Go&amp;page=2", false,
				card{path: "/q/go-1/", title: "Senior Go Developer", country: "Poland", published: "Ukraine. Remote. 12 March", badges: []string{"Go", " Kubernetes "}},
				card{path: "/q/go-2/", title: "Go Engineer", country: "Poland", published: "Poland. Office. 11 March"},
			))
		case q.Get("title") == "Go" && q.Get("page") == "2":
			fmt.Fprint(w, listing("", "", true,
				card{path: "/q/go-3/", title: "Backend Developer", country: "Poland", published: "Remote. 1 March"},
			))
		case q.Get("title") == "Python":
			fmt.Fprint(w, listing("", "", false,
				card{path: "/q/py-1/", title: "Python Developer", country: "Poland", published: "Remote. 2 March"},
				card{title: "No link", country: "Poland", published: "Remote. 2 March"},
			))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
