// Package ws bridges the communication bus to WebSocket clients.
//
// Message Types (Client → Server):
//   - subscribe: receive publications of channel/event, with replay
//   - unsubscribe: stop receiving channel/event
//   - publish: publish data on channel/event
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - system, subscribed, published, pong
//   - event: a publication on a subscribed channel
//   - error: the last frame could not be handled
//
// An empty channel addresses the global channel; an empty event means
// the default data event.
//
// Example Usage:
//
//	handler := ws.NewHandler(manager.Events(), logger)
//	router.GET("/ws/bus", handler.HandleConnection)
package ws
