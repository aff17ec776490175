package capability

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// exposesQuery locates the "exposes" array regardless of which shape the
// source payload uses: a bare {"exposes": [...]} bridge message, a
// {"definition": {"exposes": [...]}} discovery response, or a manually
// curated {"capabilities": {"exposes": [...]}} record.
var exposesQuery = mustParseQuery(`.exposes // .definition.exposes // .capabilities.exposes // []`)

func mustParseQuery(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("capability: invalid built-in jq query %q: %v", src, err))
	}
	return q
}

// ExtractExposes pulls the exposes array out of a heterogeneous raw
// document (already JSON-decoded into Go values) using the query above, so
// callers can hand Parse a normalised []any regardless of which of the
// registry's response shapes produced the document.
func ExtractExposes(raw any) ([]any, error) {
	iter := exposesQuery.Run(raw)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("capability: evaluating exposes query: %w", err)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	return list, nil
}
