package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/hypercart/app/flags"
	"github.com/umputun/hypercart/app/history"
	"github.com/umputun/hypercart/app/vitals"
)

func TestServer_newTemplateData(t *testing.T) {
	srv := newTestServer(t)
	srv.Flags.Set(flags.Debounce, true)
	srv.Flags.Set(flags.HeroPreload, true)

	data := srv.newTemplateData(httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, "test-host", data.Hostname)
	assert.Equal(t, "test", data.Version)
	assert.False(t, data.AuthEnabled)
	assert.False(t, data.Debug)
	assert.Equal(t, []flags.Name{flags.HeroPreload, flags.Debounce}, data.Active)
	assert.Equal(t, []string{"heroPreload", "debounce"}, data.ActiveNames)
	assert.True(t, data.On["debounce"])
	assert.False(t, data.On["useWorker"])
	assert.Len(t, data.On, len(flags.All))
	assert.Equal(t, []string{"baseline", "optimized", "pathological"}, data.PresetNames)
	assert.Empty(t, data.Head)
	assert.Equal(t, time.Now().Year(), data.CurrentYear)

	data = srv.newTemplateData(httptest.NewRequest(http.MethodGet, "/?debug=1", http.NoBody))
	assert.True(t, data.Debug)
	data = srv.newTemplateData(httptest.NewRequest(http.MethodGet, "/?debug=0", http.NoBody))
	assert.False(t, data.Debug)
}

func TestServer_handleDashboardHistory(t *testing.T) {
	srv := newTestServer(t, withHistory(t))
	snap := vitals.Snapshot{Metrics: map[vitals.MetricName]vitals.Metric{
		vitals.CLS: {Name: vitals.CLS, Value: 0.3, Rating: vitals.Poor},
	}}
	srv.Flags.Set(flags.LateBanner, true)
	_, err := srv.History.Save(t.Context(), history.SourceProbe, snap)
	require.NoError(t, err)

	code, body := get(t, srv.routes(), "/dashboard")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<td>probe</td>")
	assert.Contains(t, body, "<td>lateBanner</td>")
}

func TestServer_handleObserverScript(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/observer.js", http.NoBody)
	rec := httptest.NewRecorder()
	newTestServer(t).routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "PerformanceObserver")
}

func TestServer_handleStaticFile(t *testing.T) {
	h := newTestServer(t).routes()

	req := httptest.NewRequest(http.MethodGet, "/extra.css", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	assert.Contains(t, rec.Body.String(), ".unused-rule-800")

	req = httptest.NewRequest(http.MethodGet, "/thirdparty.js", http.NoBody)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "position: fixed")
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "https://picsum.photos/seed/hypercart-5/400/300", imageURL(5, 400, 300))
}

func TestHumanTime(t *testing.T) {
	assert.Equal(t, "Never", humanTime(time.Time{}))
	assert.Equal(t, "Mar 4, 05:06:07", humanTime(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)))
}
