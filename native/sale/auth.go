package sale

// WitnessChecker proves that the current invocation was cryptographically
// authorized by the given address. The node supplies an implementation per
// invocation; tests inject their own to exercise denial paths.
type WitnessChecker interface {
	CheckWitness(addr [20]byte) bool
}

// WitnessFunc adapts a plain function to the WitnessChecker interface.
type WitnessFunc func(addr [20]byte) bool

func (f WitnessFunc) CheckWitness(addr [20]byte) bool { return f(addr) }

// isSeller reports whether caller is the sale's seller and holds a valid
// witness for this invocation. No caching: every state-changing operation
// re-checks.
func (e *Engine) isSeller(s *Sale, caller [20]byte) bool {
	if s == nil || caller != s.Seller {
		return false
	}
	return e.checkWitness(caller)
}

// isBuyer reports whether caller is the sale's designated buyer and holds a
// valid witness for this invocation.
func (e *Engine) isBuyer(s *Sale, caller [20]byte) bool {
	if s == nil || s.Open() || caller != s.Buyer {
		return false
	}
	return e.checkWitness(caller)
}

func (e *Engine) checkWitness(addr [20]byte) bool {
	if e == nil || e.witness == nil {
		return false
	}
	return e.witness.CheckWitness(addr)
}
