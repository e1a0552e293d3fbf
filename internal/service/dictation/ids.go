package dictation

import (
	"fmt"
	"sync/atomic"
)

// TakeIDs generates capture take ids scoped to a session.
type TakeIDs struct {
	counter uint64
}

// Next returns the next take id for sessionId.
func (g *TakeIDs) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-take-%d", sessionId, n)
}
