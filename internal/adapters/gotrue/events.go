package gotrue

import (
	"fmt"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
)

// Each listener gets its own bus topic: the bus identifies handlers by code pointer,
// so closures created by the same literal could not be told apart on one topic.
const topicPrefix = "auth_state_change:"

type subscription struct {
	c       *Client
	topic   string
	handler func(domainauth.AuthEvent, *domainauth.Session)
}

func (s *subscription) Unsubscribe() {
	s.c.subMu.Lock()
	defer s.c.subMu.Unlock()
	if _, ok := s.c.topics[s.topic]; !ok {
		return
	}
	delete(s.c.topics, s.topic)
	if err := s.c.bus.Unsubscribe(s.topic, s.handler); err != nil {
		s.c.logger.Debug("unsubscribe auth listener", "topic", s.topic, "error", err)
	}
}

// OnAuthStateChange registers fn for auth-change events. Events are delivered
// asynchronously, one at a time per listener, in the order they occurred.
func (c *Client) OnAuthStateChange(fn ports.AuthStateListener) ports.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	sub := &subscription{
		c:     c,
		topic: fmt.Sprintf("%s%d", topicPrefix, c.nextSub),
		handler: func(event domainauth.AuthEvent, sess *domainauth.Session) {
			fn(event, sess)
		},
	}
	if err := c.bus.SubscribeAsync(sub.topic, sub.handler, true); err != nil {
		c.logger.Error("subscribe auth listener", "error", err)
		return sub
	}
	c.topics[sub.topic] = struct{}{}
	return sub
}

// publish blocks while a listener is still handling its previous event.
func (c *Client) publish(event domainauth.AuthEvent, sess *domainauth.Session) {
	c.subMu.Lock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.subMu.Unlock()
	for _, topic := range topics {
		c.bus.Publish(topic, event, cloneSession(sess))
	}
}
