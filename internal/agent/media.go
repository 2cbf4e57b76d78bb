package agent

import "regexp"

// mediaTagRe matches <!-- media:/path --> tags that tools embed in their
// results.
var mediaTagRe = regexp.MustCompile(`<!-- media:(.+?) -->`)

// generatedPathRe is the fallback: backends that run tools internally
// never surface media tags, but the agent echoes the file path under the
// generated-output directory in its text response.
var generatedPathRe = regexp.MustCompile("[`\\s(/]((?:/[^\\s`*]+/\\.pawd/generated/[^\\s`*)]+))")

// extractMediaTags pulls media file paths out of tagged text.
func extractMediaTags(text string) []string {
	var paths []string
	for _, m := range mediaTagRe.FindAllStringSubmatch(text, -1) {
		paths = append(paths, m[1])
	}
	return paths
}

// extractGeneratedPaths pulls file paths under the generated-output
// directory out of free text.
func extractGeneratedPaths(text string) []string {
	var paths []string
	for _, m := range generatedPathRe.FindAllStringSubmatch(text, -1) {
		paths = append(paths, m[1])
	}
	return paths
}

// dedupePaths removes duplicates while preserving first-seen order.
func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
