package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/bufpool"
	"github.com/sells-group/livability/internal/dem"
	"github.com/sells-group/livability/internal/engine"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/present"
	"github.com/sells-group/livability/internal/region"
	"github.com/sells-group/livability/internal/scorer"
	"github.com/sells-group/livability/internal/transfer"
)

type levelFetcher struct{}

func (levelFetcher) Key() dem.SourceKey { return "level" }
func (levelFetcher) TileSize() int      { return 256 }

func (levelFetcher) Fetch(_ context.Context, key dem.TileKey) (*dem.Tile, error) {
	data := make([]float32, 256*256)
	for i := range data {
		data[i] = 400
	}
	return &dem.Tile{Key: key, Size: 256, Data: data}, nil
}

func (f levelFetcher) FetchWithRetry(ctx context.Context, key dem.TileKey) (*dem.Tile, error) {
	return f.Fetch(ctx, key)
}

var extent = geo.Bounds{West: 10, South: 45, East: 11, North: 46}

func square(w, s, e, n float64) *geom.MultiPolygon {
	p := geom.NewPolygon(geom.XY)
	if err := p.Push(geom.NewLinearRingFlat(geom.XY, []float64{w, s, e, s, e, n, w, n, w, s})); err != nil {
		panic(err)
	}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(p); err != nil {
		panic(err)
	}
	return mp
}

func specs() []layer.Spec {
	fn := transfer.Function{PlateauStart: 0, DecayEnd: 1000, Floor: 0, Ceiling: 1, Shape: transfer.Linear}
	return []layer.Spec{
		{ID: "elevation", Kind: layer.KindElevation, Enabled: true, Weight: 1, Transfer: fn},
	}
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	bufs := bufpool.NewBuffers()
	provider := dem.NewProvider(dem.ProviderConfig{Extent: extent, CoarseZoom: 8, MaxZoom: 8, Concurrency: 2}, bufs)
	e, err := engine.New(engine.Config{
		Extent:  extent,
		Scorer:  scorer.DefaultOptions(),
		Present: present.Options{Ramp: "blue_red", Opacity: 1},
	}, engine.Deps{Provider: provider, Buffers: bufs}, specs())
	require.NoError(t, err)
	require.NoError(t, e.ConfigureSource(context.Background(), levelFetcher{}))

	e.SetRegions(region.NewSet([]*region.Region{
		region.New("north", "North", square(10, 45.5, 11, 46)),
		region.New("south", "South", square(10, 45, 11, 45.5)),
	}))
	e.SetTable(attribute.NewTable())
	return New(e, Options{CORSOrigins: []string{"https://map.example"}}), e
}

func do(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRenderPNG(t *testing.T) {
	s, e := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/render?bbox=10,45,11,46&width=16&height=8", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "10,45,11,46", rec.Header().Get("X-Bounds"))
	assert.NotEmpty(t, rec.Header().Get("X-Frame-ID"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
	assert.Equal(t, int64(1), e.Stats().Renders)
}

func TestRenderClampsToExtent(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/render?bbox=9,44,10.5,45.5&width=4&height=4&normalize=frame", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10,45,10.5,45.5", rec.Header().Get("X-Bounds"))
}

func TestRenderBadParams(t *testing.T) {
	s, _ := newTestServer(t)
	for _, q := range []string{
		"bbox=1,2,3",
		"width=abc",
		"width=-4&height=4",
		"resident=maybe",
		"normalize=stretch",
	} {
		rec := do(t, s, http.MethodGet, "/render?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestSample(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/sample?lon=10.5&lat=45.75", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Region struct {
			Key string `json:"key"`
		} `json:"region"`
		Score struct {
			Score float64 `json:"score"`
		} `json:"score"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "north", res.Region.Key)
	assert.InDelta(t, 0.6, res.Score.Score, 1e-3)

	rec = do(t, s, http.MethodGet, "/sample?lon=east&lat=45", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegions(t *testing.T) {
	s, e := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/regions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var scores []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scores))
	assert.Len(t, scores, 2)

	e.SetRegions(nil)
	rec = do(t, s, http.MethodGet, "/regions", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestLayersRoundTrip(t *testing.T) {
	s, e := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/layers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"kind":"elevation"`)
	assert.Contains(t, body, `"shape":"linear"`)

	body = strings.Replace(body, `"weight":1`, `"weight":2`, 1)
	rec = do(t, s, http.MethodPut, "/layers", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 2, e.Layers()[0].Weight, 1e-9)
}

func TestPutLayersErrors(t *testing.T) {
	s, e := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/layers", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/layers", `[{"id":"x","kind":"rainfall"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/layers", `[{"id":"n","kind":"attribute","enabled":true,"weight":1}]`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "attribute layers need a variable")
	assert.Len(t, e.Layers(), 1)
}

func TestRampsAndStats(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/ramps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kindlmann")

	do(t, s, http.MethodGet, "/render?width=4&height=4", "")
	rec = do(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st engine.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.Renders)
	assert.Equal(t, 1, st.IndexBuilds)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/layers", nil)
	req.Header.Set("Origin", "https://map.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://map.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
