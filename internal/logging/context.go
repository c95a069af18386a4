package logging

// WorkerContext creates a logger context for one shard's aggregation worker.
func WorkerContext(shard int) *Logger {
	return Default().WithField("shard", shard).WithComponent("worker")
}

// DispatchContext creates a logger context for the shard dispatcher.
func DispatchContext() *Logger {
	return Default().WithComponent("dispatcher")
}

// DetectorContext creates a logger context for a single detector invocation.
func DetectorContext(detector, symbol, interval string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"detector": detector,
		"symbol":   symbol,
		"interval": interval,
	}).WithComponent("detect")
}

// QueueContext creates a logger context for queue-adapter operations.
func QueueContext(queueName string) *Logger {
	return Default().WithField("queue", queueName).WithComponent("queue")
}

// StreamContext creates a logger context for the websocket boundary reader.
func StreamContext(url string) *Logger {
	return Default().WithField("url", url).WithComponent("stream")
}
