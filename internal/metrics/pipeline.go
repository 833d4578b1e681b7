package metrics

import (
	"frontdesk/internal/bus"
)

var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10}

// Pipeline turns pipeline events into metrics.
type Pipeline struct {
	c          *Collector
	received   *Counter
	duplicates *Counter
	agentMsgs  *Counter
	reclaims   *Counter
	sendFail   *Counter
	suppressed *Counter
	latency    *Histogram
}

// NewPipeline registers the pipeline metrics on c and subscribes to eb.
func NewPipeline(c *Collector, eb *bus.EventBus) *Pipeline {
	p := &Pipeline{
		c:          c,
		received:   c.Counter("messages_received_total", "Inbound customer messages accepted", ""),
		duplicates: c.Counter("messages_duplicate_total", "Inbound messages dropped as duplicates", ""),
		agentMsgs:  c.Counter("messages_agent_total", "Agent messages recorded", ""),
		reclaims:   c.Counter("conversations_reclaimed_total", "HUMAN conversations returned to AUTO", ""),
		sendFail:   c.Counter("send_failures_total", "Replies the transport rejected", ""),
		suppressed: c.Counter("replies_suppressed_total", "Replies suppressed as duplicates", ""),
		latency: c.Histogram("completion_latency_seconds", "Completion service latency in seconds", "",
			latencyBuckets),
	}
	if eb != nil {
		eb.On("*", p.handle)
	}
	return p
}

func (p *Pipeline) handle(e bus.Event) {
	switch e.Type {
	case bus.EventMessageReceived:
		p.received.Inc()
	case bus.EventMessageDuplicate:
		p.duplicates.Inc()
	case bus.EventAgentMessage:
		p.agentMsgs.Inc()
	case bus.EventReclaimed:
		p.reclaims.Inc()
	case bus.EventSendFailed:
		p.sendFail.Inc()
	case bus.EventReplySuppressed:
		p.suppressed.Inc()
	case bus.EventReplySent:
		p.c.Counter("replies_total", "Replies sent by kind", Label("kind", e.Str("kind"))).Inc()
	case bus.EventSilent:
		p.c.Counter("silent_total", "Messages deliberately left unanswered", Label("reason", e.Str("reason"))).Inc()
	case bus.EventHandoff:
		p.c.Counter("handoffs_total", "Conversations handed to a human", Label("reason", e.Str("reason"))).Inc()
	case bus.EventDecision:
		reason := e.Str("reason")
		if reason == "" {
			reason = "accepted"
		}
		p.c.Counter("decider_outcomes_total", "Grounded decider outcomes", Label("outcome", reason)).Inc()
	case bus.EventCompletion:
		p.latency.Observe(e.Float("latency_ms") / 1000)
	}
}
