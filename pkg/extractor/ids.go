package extractor

import (
	"regexp"
	"strings"
)

// transactionIDPattern matches a label such as "Txn ID:", "Ref No." or "UTR"
// followed by the identifier itself.
var transactionIDPattern = regexp.MustCompile(`(?i)\b(?:(?:txn|transaction|trans)\s*(?:id|no|number|ref(?:erence)?)|ref(?:erence)?(?:\s*(?:no|number|id))?|utr|rrn)\b\.?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9-]{4,29})\b`)

// extractTransactionIDs returns labeled identifiers in order of occurrence.
// Tokens without a digit are words, not identifiers.
func extractTransactionIDs(text string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, m := range transactionIDPattern.FindAllStringSubmatch(text, -1) {
		id := strings.TrimRight(m[1], "-")
		if len(id) < 5 || !strings.ContainsAny(id, "0123456789") {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
