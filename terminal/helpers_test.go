package terminal

import (
	"context"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/lixenwraith/reactor/rrt"
)

func recv(c *qt.C, g *rrt.SubscriberGuard[Event]) rrt.Event[Event] {
	c.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := g.Recv(ctx)
	c.Assert(err, qt.IsNil)
	return ev
}

func waitTerminated(c *qt.C, sup *rrt.Supervisor[Event]) {
	c.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for sup.State() != rrt.Terminated {
		if time.Now().After(deadline) {
			c.Fatalf("supervisor %s still %v", sup.Name(), sup.State())
		}
		time.Sleep(time.Millisecond)
	}
}

// recvMatching skips events until match accepts one. Screens may post
// events of their own, such as an initial resize.
func recvMatching(c *qt.C, g *rrt.SubscriberGuard[Event], match func(Event) bool) Event {
	c.Helper()
	for i := 0; i < 100; i++ {
		ev := recv(c, g)
		c.Assert(ev.IsShutdown(), qt.IsFalse)
		if match(ev.Payload) {
			return ev.Payload
		}
	}
	c.Fatalf("no matching event")
	return Event{}
}

func isKey(ev Event) bool { return ev.Type == EventKey }
