package transform

import "regexp"

var (
	urlPattern    = regexp.MustCompile(`url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)
	importPattern = regexp.MustCompile(`@import\s+(['"])([^'"]*)(['"])`)
)

// rewriteCSS rewrites url(...) and @import "..." references
func rewriteCSS(content string, res *resolver) string {
	content = urlPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := urlPattern.FindStringSubmatch(match)
		link, ok := res.link(sub[2])
		if !ok {
			return match
		}
		return "url(" + sub[1] + link + sub[3] + ")"
	})
	return importPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := importPattern.FindStringSubmatch(match)
		link, ok := res.link(sub[2])
		if !ok {
			return match
		}
		return "@import " + sub[1] + link + sub[3]
	})
}
