// Package handler contains the HTTP handlers of stallcode: the JSON API,
// the server-rendered map page and its form posts.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (query params, form or JSON body)
//  2. Call the service layer
//  3. Write the response (JSON, HTML or a redirect)
//
// Handlers hold no business rules. Which code is a duplicate or whether a
// vote counts is decided in internal/service.
package handler

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/stallcode/internal/apperror"
	"github.com/sakif/stallcode/internal/geo"
	"github.com/sakif/stallcode/internal/location"
	"github.com/sakif/stallcode/internal/model"
	"github.com/sakif/stallcode/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// OSMEmbedURL is the OpenStreetMap embed endpoint the map page frames.
const OSMEmbedURL = "https://www.openstreetmap.org/export/embed.html"

// MapHandler serves the map page and the forms posted from it.
//
// Each page view is one short-lived service.Resolver session: the
// location is resolved (browser report, then GeoIP, then the fixed
// fallback), the session is refreshed around it and rendered.
type MapHandler struct {
	nearby    *service.NearbyService
	ledger    *service.VoteLedger
	locator   *location.Resolver
	geoip     *location.GeoIP // optional
	templates *template.Template
	logger    *slog.Logger
}

// NewMapHandler parses the embedded templates. geoip may be nil.
func NewMapHandler(nearby *service.NearbyService, ledger *service.VoteLedger, locator *location.Resolver, geoip *location.GeoIP, logger *slog.Logger) (*MapHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/map.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &MapHandler{
		nearby:    nearby,
		ledger:    ledger,
		locator:   locator,
		geoip:     geoip,
		templates: tmpl,
		logger:    logger,
	}, nil
}

type marker struct {
	Code string
	Top  float64
	Left float64
}

type codeRow struct {
	ID          string
	Code        string
	Description string
	Score       int
	Distance    string
}

type mapPage struct {
	Title          string
	Center         geo.Point
	MapURL         string
	Notice         string
	Flash          string
	RadiusLabel    string
	AskLocation    bool
	CanAdd         bool // only at a position the device reported
	Markers        []marker
	Codes          []codeRow
	MaxCode        int
	MaxDescription int
}

// HandleMap renders the map page.
//
// HTTP: GET /?lat=47.61&lon=-122.32   position reported by the browser
//
//	GET /?err=1                  browser geolocation error code
//	GET /                        ask the browser, meanwhile use GeoIP or the fallback
//
// A flash query value is shown once above the map.
func (h *MapHandler) HandleMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reported := location.ParseReported(q.Get("lat"), q.Get("lon"), q.Get("err"))
	askBrowser := !q.Has("lat") && !q.Has("lon") && !q.Has("err")

	providers := []location.Provider{reported}
	if h.geoip != nil {
		providers = append(providers, h.geoip.ForAddr(r.RemoteAddr))
	}
	fix := h.locator.Resolve(r.Context(), providers...)

	session := service.NewResolver(h.nearby, h.ledger, 0, h.logger)
	defer session.Close()
	session.Refresh(r.Context(), fix.Point)

	page := buildMapPage(fix, session.Codes(), session.Radius())
	page.Flash = q.Get("flash")
	page.AskLocation = askBrowser
	if askBrowser {
		// The browser has not answered yet; no banner until it does.
		page.Notice = ""
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "base", page); err != nil {
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func buildMapPage(fix location.Fix, codes []model.Code, radius float64) mapPage {
	page := mapPage{
		Title:          "Stallcode: restroom codes nearby",
		Center:         fix.Point,
		MapURL:         EmbedURL(fix.Point, geo.DefaultViewportSpan),
		Notice:         fix.Message(),
		CanAdd:         fix.Precise(),
		RadiusLabel:    formatDistance(radius),
		Markers:        []marker{},
		Codes:          make([]codeRow, 0, len(codes)),
		MaxCode:        model.MaxCodeLength,
		MaxDescription: model.MaxDescriptionLength,
	}
	for _, c := range codes {
		row := codeRow{ID: c.ID, Code: c.Code, Description: c.Description, Score: c.VoteScore}
		if c.Distance != nil {
			row.Distance = formatDistance(*c.Distance)
		}
		page.Codes = append(page.Codes, row)

		if vp := geo.ProjectToViewport(c.Point(), fix.Point, geo.DefaultViewportSpan); vp.Visible() {
			page.Markers = append(page.Markers, marker{Code: c.Code, Top: vp.Top, Left: vp.Left})
		}
	}
	return page
}

// EmbedURL is the OpenStreetMap embed for the spanDeg-wide square around
// center, with a marker on center.
func EmbedURL(center geo.Point, spanDeg float64) string {
	b := geo.BoundsAround(center, spanDeg)
	return fmt.Sprintf("%s?bbox=%s%%2C%s%%2C%s%%2C%s&layer=mapnik&marker=%s%%2C%s",
		OSMEmbedURL,
		coord(b.MinLon), coord(b.MinLat), coord(b.MaxLon), coord(b.MaxLat),
		coord(center.Lat), coord(center.Lon),
	)
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func formatDistance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.1f km", m/1000)
}

// =========================================================================
// FORM POSTS
// =========================================================================

// HandleAddForm stores a code posted from the page at the page's centre
// and redirects back with a flash message.
//
// HTTP: POST /codes  (form: code, description, lat, lon)
func (h *MapHandler) HandleAddForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectHome(w, r, nil, "Could not read the form.")
		return
	}
	at, err := parsePoint(r.PostForm.Get("lat"), r.PostForm.Get("lon"))
	if err != nil {
		redirectHome(w, r, nil, "Your location is missing. Reload the page and try again.")
		return
	}

	_, err = h.nearby.AddCode(r.Context(), model.NewCode{
		Code:        r.PostForm.Get("code"),
		Description: r.PostForm.Get("description"),
		Latitude:    at.Lat,
		Longitude:   at.Lon,
	})
	if err != nil {
		redirectHome(w, r, &at, flashFor(err))
		return
	}
	redirectHome(w, r, &at, "Code added. Thanks!")
}

// HandleVoteForm casts a vote posted from the page.
//
// HTTP: POST /codes/{id}/vote  (form: value, lat, lon)
func (h *MapHandler) HandleVoteForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectHome(w, r, nil, "Could not read the form.")
		return
	}
	var back *geo.Point
	if at, err := parsePoint(r.PostForm.Get("lat"), r.PostForm.Get("lon")); err == nil {
		back = &at
	}

	value, err := strconv.Atoi(r.PostForm.Get("value"))
	if err != nil {
		redirectHome(w, r, back, "Invalid vote.")
		return
	}

	res, err := h.ledger.CastVote(r.Context(), chi.URLParam(r, "id"), value)
	switch {
	case err != nil:
		redirectHome(w, r, back, flashFor(err))
	case !res.Changed:
		redirectHome(w, r, back, "You already voted that way.")
	default:
		redirectHome(w, r, back, "Thanks for voting!")
	}
}

// flashFor is the one-line message shown after a failed form post. Each
// error kind gets its own wording.
func flashFor(err error) string {
	var appErr *apperror.AppError
	switch {
	case errors.Is(err, apperror.ErrSelfVote):
		return "You can't vote on a code you added."
	case errors.Is(err, apperror.ErrNotFound):
		return "That code no longer exists."
	case errors.As(err, &appErr):
		return appErr.Message
	default:
		return "Something went wrong, please try again."
	}
}

// redirectHome sends the browser back to the map, keeping its position.
func redirectHome(w http.ResponseWriter, r *http.Request, at *geo.Point, flash string) {
	v := url.Values{}
	if at != nil {
		v.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
		v.Set("lon", strconv.FormatFloat(at.Lon, 'f', -1, 64))
	}
	if flash != "" {
		v.Set("flash", flash)
	}
	target := "/"
	if len(v) > 0 {
		target += "?" + v.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
