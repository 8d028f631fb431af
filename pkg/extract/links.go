package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/calvinalkan/formdb/pkg/record"
)

// extractLinks collects [[wikilink]] targets from the body in order of
// first appearance, deduplicated by target. Link ids are derived from the
// target text so re-extracting the same markdown yields identical edges;
// the reciprocal edge stored against the other endpoint shares the id.
func extractLinks(body string) []record.LinkRef {
	var (
		links []record.LinkRef
		seen  map[string]struct{}
	)

	rest := body

	for {
		start := strings.Index(rest, "[[")
		if start < 0 {
			break
		}

		end := strings.Index(rest[start+2:], "]]")
		if end < 0 {
			break
		}

		target := strings.TrimSpace(rest[start+2 : start+2+end])
		rest = rest[start+2+end+2:]

		if target == "" || strings.ContainsAny(target, "\n") {
			continue
		}

		// Alias form: [[target|label]] links to the target.
		if idx := strings.IndexByte(target, '|'); idx >= 0 {
			target = strings.TrimSpace(target[:idx])
			if target == "" {
				continue
			}
		}

		if seen == nil {
			seen = make(map[string]struct{}, 4)
		}

		if _, dup := seen[target]; dup {
			continue
		}

		seen[target] = struct{}{}

		links = append(links, record.LinkRef{LinkID: linkID(target), Target: target})
	}

	return links
}

// linkID derives a stable edge id from the link target.
func linkID(target string) string {
	sum := sha256.Sum256([]byte(target))

	return hex.EncodeToString(sum[:8])
}

// extractAssets collects image-style asset references '![alt](ref)' in
// order of first appearance, deduplicated by reference. References are
// opaque; resolution happens elsewhere.
func extractAssets(body string) []record.AssetRef {
	var (
		assets []record.AssetRef
		seen   map[string]struct{}
	)

	rest := body

	for {
		start := strings.Index(rest, "![")
		if start < 0 {
			break
		}

		closeBracket := strings.Index(rest[start:], "](")
		if closeBracket < 0 {
			break
		}

		tail := rest[start+closeBracket+2:]

		end := strings.IndexByte(tail, ')')
		if end < 0 {
			break
		}

		ref := strings.TrimSpace(tail[:end])
		rest = tail[end+1:]

		if ref == "" || strings.ContainsAny(ref, "\n") {
			continue
		}

		if seen == nil {
			seen = make(map[string]struct{}, 4)
		}

		if _, dup := seen[ref]; dup {
			continue
		}

		seen[ref] = struct{}{}

		assets = append(assets, record.AssetRef{Ref: ref})
	}

	return assets
}
