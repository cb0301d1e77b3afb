package agent

// dedupGuard remembers the tool calls executed during one attempt.
type dedupGuard struct {
	seen map[string]struct{}
}

func newDedupGuard() *dedupGuard {
	return &dedupGuard{seen: make(map[string]struct{})}
}

func (g *dedupGuard) Seen(signature string) bool {
	_, ok := g.seen[signature]
	return ok
}

func (g *dedupGuard) Record(signature string) {
	g.seen[signature] = struct{}{}
}
