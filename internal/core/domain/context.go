package domain

import (
	"fmt"
	"strings"
)

// ViewContext is the complete effective context of a cached read: every
// value the computation consults, explicit or ambient, lives here. Cached
// reads receive a ViewContext and nothing else, so two calls that could
// return different data can never share a cache key.
type ViewContext struct {
	ActorID     string
	Role        Role
	ProjectSite string // empty = all sites (admin scope)
	Status      RequestStatus
	Category    ItemCategory
	Search      string
	Limit       int
	Offset      int
}

// CacheKey canonically encodes every field. Field order is fixed and values
// are escaped so no two distinct contexts collide.
func (vc ViewContext) CacheKey(view string) string {
	esc := func(s string) string {
		return strings.NewReplacer("%", "%25", "|", "%7C").Replace(s)
	}
	return fmt.Sprintf("%s|actor=%s|role=%s|site=%s|status=%s|cat=%s|q=%s|limit=%d|offset=%d",
		view, esc(vc.ActorID), esc(string(vc.Role)), esc(vc.ProjectSite),
		esc(string(vc.Status)), esc(string(vc.Category)), esc(vc.Search), vc.Limit, vc.Offset)
}
