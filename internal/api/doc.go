// Package api exposes a worker runtime over HTTP and WebSocket.
//
// Routes:
//
//	GET  /api/status                  pool size, ready and pending counts
//	POST /api/sum                     {"from":0,"to":50} or empty body for the default range
//	POST /api/channel/send            raw body is sent to the shared channel
//	POST /api/channel/receive         long poll; ?timeout=5s, 204 when nothing arrives
//	GET  /api/map/{key}               raw value, 404 when missing
//	PUT  /api/map/{key}               raw body becomes the value
//	GET  /api/workers                 per-worker state
//	POST /api/workers/{id}/restart    restart a terminated worker
//	GET  /api/metrics                 task metrics snapshot
//	/ws                               pool events and periodic status as JSON
package api
