package docstore

import (
	"strings"
	"unicode/utf8"
)

// maxQueryLen bounds the text sent to the embedder; longer queries add
// embedding cost without sharpening relevance.
const maxQueryLen = 500

// stopWords are stripped from queries before embedding.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true,
}

// normalizeQuery truncates the query and removes stop words. A query made
// entirely of stop words is returned truncated but otherwise intact so it
// still embeds to something.
func normalizeQuery(query string) string {
	if len(query) > maxQueryLen {
		cut := maxQueryLen
		for cut > 0 && !utf8.RuneStart(query[cut]) {
			cut--
		}
		query = query[:cut]
	}
	words := strings.Fields(strings.ToLower(query))
	kept := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return query
	}
	return strings.Join(kept, " ")
}
