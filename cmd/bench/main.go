// Command bench pans synthetic viewports across tile pyramids and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/tilecache/coord"
	pmet "github.com/IvanBrykalov/tilecache/metrics/prom"
	"github.com/IvanBrykalov/tilecache/pyramid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Flags ----
	var (
		cacheSize = flag.Int("cache", pyramid.DefaultCacheSize, "non-retained tiles kept per pyramid")
		maxZoom   = flag.Int("maxzoom", 14, "source maxzoom; deeper zooms are overscaled")
		reparse   = flag.Bool("reparse", false, "load overscaled tiles instead of reusing maxzoom ancestors")

		viewers  = flag.Int("viewers", runtime.GOMAXPROCS(0), "independent viewports, one pyramid each")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		width    = flag.Int("width", 6, "viewport width in tiles")
		height   = flag.Int("height", 4, "viewport height in tiles")
		panPct   = flag.Int("pan", 30, "frames that pan the viewport [0..100]")
		zoomPct  = flag.Int("zoom", 3, "frames that change zoom [0..100]")
		donePct  = flag.Int("complete", 50, "chance a pending load completes on a frame [0..100]")
		queries  = flag.Int("queries", 4, "point lookups per frame")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	stats := &counting{next: pmet.New(nil, "tilecache", "bench", prometheus.Labels{"source": "bench"})}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	viewersN := max(*viewers, 1)
	cfg := viewport{
		w: *width, h: *height,
		panPct: *panPct, zoomPct: *zoomPct, donePct: *donePct, queries: *queries,
		maxZoom: *maxZoom,
	}

	// ---- Load generation ----
	var frames atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(viewersN)
	for v := 0; v < viewersN; v++ {
		go func(id int) {
			defer wg.Done()

			// Each viewer owns its RNG and pyramid; neither is goroutine-safe.
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			var pending []pyramid.Completion
			p := pyramid.New(pyramid.Options{
				CacheSize:         *cacheSize,
				MaxZoom:           cfg.maxZoom,
				ReparseOverscaled: *reparse,
				Metrics:           stats,
				Callbacks: pyramid.Callbacks{
					Load: func(_ *pyramid.Tile, c pyramid.Completion) { pending = append(pending, c) },
				},
			})

			cam := cfg.start(r)
			for ctx.Err() == nil {
				cam = cfg.step(r, cam)
				p.Retain(cam.coords(cfg))

				kept := pending[:0]
				for _, c := range pending {
					if r.Intn(100) >= cfg.donePct {
						kept = append(kept, c)
						continue
					}
					c.Done(struct{}{}, nil)
				}
				pending = kept

				for range cfg.queries {
					p.TileAt(cam.randomPoint(r, cfg))
				}
				frames.Add(1)
			}
		}(v)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	n := frames.Load()
	hits, misses := stats.hits.Load(), stats.misses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	fmt.Printf("viewers=%d cache=%d maxzoom=%d reparse=%v viewport=%dx%d dur=%v seed=%d\n",
		viewersN, *cacheSize, cfg.maxZoom, *reparse, cfg.w, cfg.h, elapsed, *seed)
	fmt.Printf("frames=%d (%.0f frames/s, %v/frame)\n",
		n, float64(n)/elapsed.Seconds(), elapsed/time.Duration(max(n, 1))*time.Duration(viewersN))
	fmt.Printf("loads=%d  aborts=%d  evictions=%d  stale=%d\n",
		stats.loads.Load(), stats.aborts.Load(), stats.evictions.Load(), stats.stale.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hits, misses, hitRate)
}

// viewport holds the workload shape shared by all viewers.
type viewport struct {
	w, h    int
	maxZoom int
	panPct  int
	zoomPct int
	donePct int
	queries int
}

// camera is one viewer's position: the top-left tile at zoom z. Columns are
// unwrapped so panning crosses the antimeridian.
type camera struct {
	z, x, y int
}

func (v viewport) start(r *rand.Rand) camera {
	z := min(2+r.Intn(max(v.maxZoom, 1)), coord.MaxZoom)
	return camera{z: z, x: r.Intn(1 << z), y: r.Intn(1 << z)}
}

func (v viewport) step(r *rand.Rand, c camera) camera {
	if r.Intn(100) < v.zoomPct {
		if r.Intn(2) == 0 && c.z < coord.MaxZoom-1 {
			c.z, c.x, c.y = c.z+1, c.x*2, c.y*2
		} else if c.z > 2 {
			c.z, c.x, c.y = c.z-1, c.x/2, c.y/2
		}
	}
	if r.Intn(100) < v.panPct {
		c.x += r.Intn(3) - 1
		c.y += r.Intn(3) - 1
	}
	c.y = max(0, min(c.y, 1<<c.z-v.h))
	return c
}

func (c camera) coords(v viewport) []coord.Coord {
	out := make([]coord.Coord, 0, v.w*v.h)
	for dy := range v.h {
		for dx := range v.w {
			if y := c.y + dy; y >= 0 && y < 1<<c.z {
				out = append(out, coord.Wrapped(c.z, c.x+dx, y))
			}
		}
	}
	return out
}

func (c camera) randomPoint(r *rand.Rand, v viewport) coord.Point {
	return coord.Point{
		Column: float64(c.x) + r.Float64()*float64(v.w),
		Row:    float64(c.y) + r.Float64()*float64(v.h),
		Zoom:   float64(c.z) + r.Float64(),
	}
}

// counting tallies the events the report prints and forwards everything
// to Prometheus.
type counting struct {
	next pyramid.Metrics

	hits, misses, loads, aborts, evictions, stale atomic.Uint64
}

func (m *counting) Hit()  { m.hits.Add(1); m.next.Hit() }
func (m *counting) Miss() { m.misses.Add(1); m.next.Miss() }

func (m *counting) LoadStarted() { m.loads.Add(1); m.next.LoadStarted() }

func (m *counting) LoadFinished(err error) { m.next.LoadFinished(err) }

func (m *counting) StaleCompletion() { m.stale.Add(1); m.next.StaleCompletion() }

func (m *counting) Evict(r pyramid.EvictReason) {
	if r == pyramid.EvictAbort {
		m.aborts.Add(1)
	} else {
		m.evictions.Add(1)
	}
	m.next.Evict(r)
}

func (m *counting) Size(tiles, retained int) { m.next.Size(tiles, retained) }
