package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// topicPublisher sends one message and blocks until the broker acks it.
type topicPublisher interface {
	Send(ctx context.Context, msg *gcppubsub.Message) error
}

type publisherLookup func(topic string) topicPublisher

type pubsubTopics interface {
	Publisher(name string) *gcppubsub.Publisher
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

// lookupFromClient binds configured topics to the shared client. Unknown
// topics resolve to nil so the relay parks the row as unroutable.
func lookupFromClient(client pubsubTopics) publisherLookup {
	return func(topic string) topicPublisher {
		if client.Publisher(topic) == nil {
			return nil
		}
		return boundTopic{client: client, topic: topic}
	}
}

type boundTopic struct {
	client pubsubTopics
	topic  string
}

func (b boundTopic) Send(ctx context.Context, msg *gcppubsub.Message) error {
	return b.client.Publish(ctx, b.topic, msg)
}
