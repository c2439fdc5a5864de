package emoji

import (
	"html"
	"regexp"
	"strings"

	"threadlens/internal/util"
)

var shortCode = regexp.MustCompile(`:([A-Za-z0-9_-]+)(?:@([A-Za-z0-9_.-]+))?:`)

// Resolver substitutes :name: and :name@host: short-codes with image markup.
type Resolver struct {
	cache *Cache
}

// NewResolver returns a Resolver backed by cache. A nil cache only consults local maps.
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve replaces every short-code it can resolve and leaves the rest as typed.
// local is the note's own emoji table and wins over the cache. Tokens naming a
// host are looked up in that host's cache; "." means the viewing instance.
func (r *Resolver) Resolve(text, instanceHost string, local map[string]string) string {
	if !strings.Contains(text, ":") {
		return text
	}
	return shortCode.ReplaceAllStringFunc(text, func(token string) string {
		m := shortCode.FindStringSubmatch(token)
		name, host := m[1], m[2]
		if url, ok := r.lookup(name, host, instanceHost, local); ok {
			return Markup(url, name)
		}
		return token
	})
}

func (r *Resolver) lookup(name, host, instanceHost string, local map[string]string) (string, bool) {
	if url, ok := local[name]; ok && url != "" {
		return url, true
	}
	if host != "" {
		if url, ok := local[name+"@"+host]; ok && url != "" {
			return url, true
		}
	}
	if r == nil || r.cache == nil {
		return "", false
	}
	target := instanceHost
	if host != "" && host != "." {
		target = host
	}
	if util.NormalizeHost(target) == "" {
		return "", false
	}
	return r.cache.Lookup(target, name)
}

// Markup renders one emoji image reference.
func Markup(url, name string) string {
	return `<img src="` + html.EscapeString(url) + `" alt=":` + html.EscapeString(name) + `:" class="emoji" />`
}
