package middleware

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowHeaders = "Authorization, Content-Type, Last-Event-ID, X-Request-Id"
	corsMaxAge       = "600"
)

type routeMethods struct {
	segments []string
	methods  []string
}

type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
	routes   func() gin.RoutesInfo

	once  sync.Once
	table []routeMethods
}

// CORS answers cross-origin requests. Preflights advertise the methods
// registered for the requested path; routes is read on the first request,
// after the router is fully built. An empty origin list allows any origin.
func CORS(allowedOrigins []string, routes func() gin.RoutesInfo) gin.HandlerFunc {
	p := &corsPolicy{
		allowAll: len(allowedOrigins) == 0,
		origins:  make(map[string]struct{}, len(allowedOrigins)),
		routes:   routes,
	}
	for _, origin := range allowedOrigins {
		p.origins[strings.TrimSpace(origin)] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := origin != "" && p.allows(origin)
		header := c.Writer.Header()
		if origin != "" {
			header.Add("Vary", "Origin")
		}
		if allowed {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Expose-Headers", requestIDHeader)
		}
		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		methods := p.methodsFor(c.Request.URL.Path)
		if len(methods) == 0 {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		if origin != "" && !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		allow := strings.Join(append(methods, http.MethodOptions), ", ")
		header.Set("Allow", allow)
		if allowed {
			header.Set("Access-Control-Allow-Methods", allow)
			header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			header.Set("Access-Control-Max-Age", corsMaxAge)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func (p *corsPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// methodsFor returns a fresh, sorted slice of the methods whose route
// pattern matches path.
func (p *corsPolicy) methodsFor(path string) []string {
	p.once.Do(p.build)
	parts := splitPath(path)
	seen := make(map[string]struct{})
	for _, r := range p.table {
		if !matchSegments(r.segments, parts) {
			continue
		}
		for _, m := range r.methods {
			seen[m] = struct{}{}
		}
	}
	methods := make([]string, 0, len(seen))
	for m := range seen {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func (p *corsPolicy) build() {
	if p.routes == nil {
		return
	}
	byPath := make(map[string][]string)
	var order []string
	for _, r := range p.routes() {
		if r.Method == http.MethodOptions {
			continue
		}
		if _, ok := byPath[r.Path]; !ok {
			order = append(order, r.Path)
		}
		byPath[r.Path] = append(byPath[r.Path], r.Method)
	}
	for _, path := range order {
		p.table = append(p.table, routeMethods{segments: splitPath(path), methods: byPath[path]})
	}
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// matchSegments follows gin's pattern syntax: ":name" matches one segment
// and "*name" matches the rest of the path.
func matchSegments(pattern, parts []string) bool {
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "*") {
			return true
		}
		if i >= len(parts) {
			return false
		}
		if strings.HasPrefix(seg, ":") {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return len(pattern) == len(parts)
}
