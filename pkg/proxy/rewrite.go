package proxy

import (
	"net/url"
	"path"
	"strings"
)

// segmentExtensions are the media file extensions a playlist line may carry
// without being an absolute URL. Anything else that is not absolute passes
// through unchanged.
var segmentExtensions = map[string]bool{
	".ts":   true,
	".m4s":  true,
	".mp4":  true,
	".m3u8": true,
	".aac":  true,
	".vtt":  true,
}

// RewriteManifest rewrites every media line of an HLS playlist to point at
// the session's segment endpoint, carrying the original upstream URL in the
// u query parameter. Tag lines and comments pass through byte for byte;
// relative media lines are resolved against the manifest's own URL first so
// the segment endpoint only ever sees absolute targets.
func RewriteManifest(manifest string, base *url.URL, sessionID string) string {
	lines := strings.Split(manifest, "\n")
	out := make([]string, len(lines))

	for i, line := range lines {
		out[i] = rewriteLine(line, base, sessionID)
	}
	return strings.Join(out, "\n")
}

func rewriteLine(line string, base *url.URL, sessionID string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line
	}

	target, err := url.Parse(trimmed)
	if err != nil {
		return line
	}

	if !target.IsAbs() {
		if !mediaLine(trimmed) {
			return line
		}
		if base == nil {
			return line
		}
		target = base.ResolveReference(target)
	}

	return "/stream/" + sessionID + "/segment?u=" + url.QueryEscape(target.String())
}

// mediaLine reports whether a relative playlist line looks like a media
// reference rather than an opaque token.
func mediaLine(line string) bool {
	p := line
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return segmentExtensions[strings.ToLower(path.Ext(p))]
}
