package config

// QueueConfig locates the RabbitMQ broker used for deck lifecycle events.
// An empty URL disables publishing and the consumer.
type QueueConfig struct {
	URL            string
	Queue          string
	ConsumerEnable bool
}

func LoadQueueConfig() QueueConfig {
	url := envStr("RABBITMQ_URL", envStr("AMQP_URL", ""))
	return QueueConfig{
		URL:            url,
		Queue:          envStr("DECK_EVENTS_QUEUE", "deck.events"),
		ConsumerEnable: envBool("DECK_EVENTS_CONSUMER", url != ""),
	}
}
